package repository

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/flicky/storefront/internal/model"
)

type op int

const (
	opEq op = iota
	opIsNull
)

// Criterion is one WHERE filter. Columns come from code, never from input.
type Criterion struct {
	Column string
	op     op
	Value  any
}

func Eq(column string, value any) Criterion { return Criterion{Column: column, op: opEq, Value: value} }

func IsNull(column string) Criterion { return Criterion{Column: column, op: opIsNull} }

// Criteria is an ordered list of filters joined with AND.
type Criteria []Criterion

func (c Criteria) And(more ...Criterion) Criteria {
	out := make(Criteria, 0, len(c)+len(more))
	out = append(out, c...)
	return append(out, more...)
}

// Where renders the criteria with placeholders numbered from argStart.
func (c Criteria) Where(argStart int) (string, []any) {
	if len(c) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(c))
	var args []any
	n := argStart
	for _, cr := range c {
		switch cr.op {
		case opIsNull:
			parts = append(parts, cr.Column+" IS NULL")
		default:
			parts = append(parts, fmt.Sprintf("%s = $%d", cr.Column, n))
			args = append(args, cr.Value)
			n++
		}
	}
	return "WHERE " + strings.Join(parts, " AND "), args
}

// OwnerCriteria scopes a cart query to exactly one identity.
func OwnerCriteria(o model.Owner) Criteria {
	if o.IsUser() {
		return Criteria{Eq("user_id", o.UserID)}
	}
	return Criteria{Eq("session_id", o.SessionID)}
}

func VariantCriterion(id *uuid.UUID) Criterion {
	if id == nil {
		return IsNull("variant_id")
	}
	return Eq("variant_id", *id)
}

func ownerColumns(o model.Owner) (userID *uuid.UUID, sessionID *string) {
	if o.IsUser() {
		id := o.UserID
		return &id, nil
	}
	sid := o.SessionID
	return nil, &sid
}
