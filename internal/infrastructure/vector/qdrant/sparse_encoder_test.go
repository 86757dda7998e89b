package qdrant

import "testing"

func TestEncodeSparseQueryDeterministic(t *testing.T) {
	v1 := encodeSparseQuery("Risk level for DOC_0001")
	v2 := encodeSparseQuery("risk LEVEL for doc 0001")
	if len(v1.Indices) != len(v2.Indices) {
		t.Fatalf("vector sizes mismatch: %d vs %d", len(v1.Indices), len(v2.Indices))
	}
	for i := range v1.Indices {
		if v1.Indices[i] != v2.Indices[i] || v1.Values[i] != v2.Values[i] {
			t.Fatalf("mismatch at %d: %d=%f vs %d=%f", i, v1.Indices[i], v1.Values[i], v2.Indices[i], v2.Values[i])
		}
	}
}

func TestEncodeSparseQuerySaturatesRepeatedTerms(t *testing.T) {
	once := encodeSparseQuery("acme")
	twice := encodeSparseQuery("acme acme")
	if len(once.Values) != 1 || len(twice.Values) != 1 {
		t.Fatalf("expected single-term vectors, got %v and %v", once, twice)
	}
	if !(twice.Values[0] > once.Values[0]) || twice.Values[0] >= 2*once.Values[0] {
		t.Fatalf("expected sub-linear growth, got %f then %f", once.Values[0], twice.Values[0])
	}
}

func TestEncodeSparseQuerySortsIndices(t *testing.T) {
	v := encodeSparseQuery("zulu alpha beta gamma")
	if len(v.Indices) != 4 {
		t.Fatalf("expected 4 terms, got %d", len(v.Indices))
	}
	for i := 1; i < len(v.Indices); i++ {
		if v.Indices[i-1] > v.Indices[i] {
			t.Fatalf("indices not sorted at %d: %d > %d", i, v.Indices[i-1], v.Indices[i])
		}
	}
}

func TestEncodeSparseQueryEmptyNoiseInput(t *testing.T) {
	v := encodeSparseQuery("___---!!!")
	if len(v.Indices) != 0 || len(v.Values) != 0 {
		t.Fatalf("expected empty sparse vector, got %+v", v)
	}
}

func TestTokenizeAlphaNumKeepsUnicodeWords(t *testing.T) {
	tokens := tokenizeAlphaNum("Привет DOC_0001 версия-2")
	want := []string{"привет", "doc", "0001", "версия", "2"}
	if len(tokens) != len(want) {
		t.Fatalf("expected %v, got %v", want, tokens)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, tokens)
		}
	}
}
