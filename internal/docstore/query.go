package docstore

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
)

// Filter compares one column against a value. A nil value matches NULL.
type Filter struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}

func Neq(field string, value any) Filter {
	return Filter{Field: field, Op: OpNeq, Value: value}
}

type Order struct {
	Field string
	Desc  bool
}

type Query struct {
	Filters []Filter
	Limit   int
	Order   []Order
}

func (q Query) apply(tx *gorm.DB) *gorm.DB {
	for _, f := range q.Filters {
		switch f.Op {
		case OpNeq:
			tx = tx.Not(map[string]any{f.Field: f.Value})
		default:
			tx = tx.Where(map[string]any{f.Field: f.Value})
		}
	}
	for _, o := range q.Order {
		tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: o.Field}, Desc: o.Desc})
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	return tx
}
