package qdrant

// Filter is a subset of the Qdrant filter language: payload equality and match-any.
type Filter struct {
	Must    []Condition `json:"must,omitempty"`
	MustNot []Condition `json:"must_not,omitempty"`
}

type Condition struct {
	Key   string `json:"key"`
	Match Match  `json:"match"`
}

type Match struct {
	Value any   `json:"value,omitempty"`
	Any   []any `json:"any,omitempty"`
}

func FieldEquals(key string, value any) Condition {
	return Condition{Key: key, Match: Match{Value: value}}
}

func FieldIn(key string, values ...string) Condition {
	anyVals := make([]any, 0, len(values))
	for _, v := range values {
		anyVals = append(anyVals, v)
	}
	return Condition{Key: key, Match: Match{Any: anyVals}}
}

func (f *Filter) empty() bool {
	return f == nil || (len(f.Must) == 0 && len(f.MustNot) == 0)
}
