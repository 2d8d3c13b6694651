package paramwalk

import "testing"

func TestWalkDirectFields(t *testing.T) {
	l := Walk([]byte(`{"contract":"KT1Abc","token_id":"42","price":1000000}`))
	if !l.Found || l.TokenContract != "KT1Abc" || l.TokenID != "42" {
		t.Fatalf("unexpected listing: %+v", l)
	}
	if l.Price == nil || *l.Price != 1000000 {
		t.Fatalf("expected price 1000000, got %v", l.Price)
	}
}

func TestWalkNestedAsk(t *testing.T) {
	l := Walk([]byte(`{"ask":{"fa2_address":"KT1Nested","objkt_id":"7","xtz_per_objkt":"2500000"}}`))
	if !l.Found || l.TokenContract != "KT1Nested" || l.TokenID != "7" {
		t.Fatalf("unexpected listing: %+v", l)
	}
}

func TestWalkEditions(t *testing.T) {
	l := Walk([]byte(`{"editions":[{"contract":"KT1Ed","token_id":"1","amount":500}]}`))
	if !l.Found || l.TokenContract != "KT1Ed" {
		t.Fatalf("unexpected listing: %+v", l)
	}
}

func TestWalkUnrecognizedShapeIsSkipped(t *testing.T) {
	l := Walk([]byte(`{"unrelated_field":"value"}`))
	if l.Found {
		t.Fatalf("expected no match, got %+v", l)
	}
}

func TestWalkMalformedJSON(t *testing.T) {
	l := Walk([]byte(`not json`))
	if l.Found {
		t.Fatalf("expected no match for malformed payload")
	}
}
