package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Range is an inclusive numeric interval. A nil bound is unconstrained.
type Range struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// Contains reports whether v satisfies every present bound. A nil range contains everything.
func (r *Range) Contains(v float64) bool {
	if r == nil {
		return true
	}
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

func (r *Range) empty() bool { return r == nil || (r.Min == nil && r.Max == nil) }

// RFMCriteria bounds recency (days since the last order), frequency (order count) and monetary (total revenue).
type RFMCriteria struct {
	Recency   *Range `json:"recency,omitempty"`
	Frequency *Range `json:"frequency,omitempty"`
	Monetary  *Range `json:"monetary,omitempty"`
}

type BehavioralCriteria struct {
	MinOrders  *float64 `json:"minOrders,omitempty"`
	MinRevenue *float64 `json:"minRevenue,omitempty"`
}

// ExpressionCriteria is a boolean rule over the customer fact. It only matches once compiled.
type ExpressionCriteria struct {
	Source string
	rule   Rule
}

func (e *ExpressionCriteria) Compiled() bool { return e != nil && e.rule != nil }

// Criteria is the normalized membership rule of a segment. Every present family must hold.
// The zero value matches every customer.
type Criteria struct {
	RFM        *RFMCriteria
	Behavioral *BehavioralCriteria
	Expression *ExpressionCriteria
}

func (c Criteria) IsEmpty() bool {
	return c.RFM == nil && c.Behavioral == nil && c.Expression == nil
}

type criteriaDoc struct {
	RFM        *RFMCriteria        `json:"rfm,omitempty"`
	Behavioral *BehavioralCriteria `json:"behavioral,omitempty"`
	Expression string              `json:"expression,omitempty"`
}

func (c Criteria) MarshalJSON() ([]byte, error) {
	doc := criteriaDoc{RFM: c.RFM, Behavioral: c.Behavioral}
	if c.Expression != nil {
		doc.Expression = c.Expression.Source
	}
	return json.Marshal(doc)
}

func (c *Criteria) UnmarshalJSON(raw []byte) error {
	parsed, err := ParseCriteria(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Equal compares the canonical encodings, so two criteria with the same bounds are equal
// regardless of how they were written.
func (c Criteria) Equal(other Criteria) bool {
	a, errA := json.Marshal(c)
	b, errB := json.Marshal(other)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// ParseCriteria normalizes a raw criteria blob. Unknown keys and non-numeric bounds are ignored.
// Only a blob that is not an object, or an expression that is not a string, is rejected.
func ParseCriteria(raw []byte) (Criteria, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Criteria{}, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return Criteria{}, fmt.Errorf("%w: criteria must be a JSON object", ErrInvalidCriteria)
	}

	var c Criteria
	if v, ok := obj["rfm"]; ok {
		c.RFM = parseRFM(v)
	}
	if v, ok := obj["behavioral"]; ok {
		c.Behavioral = parseBehavioral(v)
	}
	if v, ok := obj["expression"]; ok && !isNull(v) {
		var src string
		if err := json.Unmarshal(v, &src); err != nil {
			return Criteria{}, fmt.Errorf("%w: expression must be a string", ErrInvalidCriteria)
		}
		if src = strings.TrimSpace(src); src != "" {
			c.Expression = &ExpressionCriteria{Source: src}
		}
	}
	return c, nil
}

func parseRFM(raw json.RawMessage) *RFMCriteria {
	fields, ok := object(raw)
	if !ok {
		return nil
	}
	rfm := &RFMCriteria{
		Recency:   parseRange(fields["recency"]),
		Frequency: parseRange(fields["frequency"]),
		Monetary:  parseRange(fields["monetary"]),
	}
	if rfm.Recency == nil && rfm.Frequency == nil && rfm.Monetary == nil {
		return nil
	}
	return rfm
}

func parseRange(raw json.RawMessage) *Range {
	fields, ok := object(raw)
	if !ok {
		return nil
	}
	r := &Range{Min: number(fields["min"]), Max: number(fields["max"])}
	if r.empty() {
		return nil
	}
	return r
}

func parseBehavioral(raw json.RawMessage) *BehavioralCriteria {
	fields, ok := object(raw)
	if !ok {
		return nil
	}
	b := &BehavioralCriteria{
		MinOrders:  firstNumber(fields, "minOrders", "min_orders"),
		MinRevenue: firstNumber(fields, "minRevenue", "min_revenue"),
	}
	if b.MinOrders == nil && b.MinRevenue == nil {
		return nil
	}
	return b
}

func object(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, false
	}
	return fields, true
}

func number(raw json.RawMessage) *float64 {
	if len(raw) == 0 || isNull(raw) {
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return &v
}

func firstNumber(fields map[string]json.RawMessage, keys ...string) *float64 {
	for _, k := range keys {
		if v := number(fields[k]); v != nil {
			return v
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
