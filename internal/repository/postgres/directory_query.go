package postgres

import (
	"fmt"
	"strings"

	"github.com/and161185/user-directory/internal/model"
)

// directoryBase joins profiles with accounts and picks one role name per account.
const directoryBase = `
WITH base AS (
    SELECT u.user_id, a.username, u.first_name, u.last_name, a.email,
           u.is_active, u.created_date, COALESCE(r.name, '') AS role,
           a.normalized_username, u.account_id
    FROM users u
    JOIN accounts a ON a.id = u.account_id
    LEFT JOIN LATERAL (
        SELECT ro.name
        FROM account_roles ar
        JOIN roles ro ON ro.id = ar.role_id
        WHERE ar.account_id = a.id
        ORDER BY ro.name
        LIMIT 1
    ) r ON true
)`

const directoryColumns = `user_id, username, first_name, last_name, email, is_active, created_date, role`

// sortColumns maps lower-cased logical sort fields to columns of base.
var sortColumns = map[string]string{
	"userid":      "user_id",
	"username":    "username",
	"firstname":   "first_name",
	"lastname":    "last_name",
	"email":       "email",
	"isactive":    "is_active",
	"createddate": "created_date",
	"role":        "role",
}

const defaultSortColumn = "created_date"

// sortColumn resolves a logical sort field; unknown or empty values fall back to created_date.
func sortColumn(field string) string {
	if col, ok := sortColumns[strings.ToLower(strings.TrimSpace(field))]; ok {
		return col
	}
	return defaultSortColumn
}

// sortDirection is ASC only for "asc" in any case.
func sortDirection(dir string) string {
	if strings.EqualFold(strings.TrimSpace(dir), "asc") {
		return "ASC"
	}
	return "DESC"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

// directoryQuery holds the page and count statements built from one PageQuery.
type directoryQuery struct {
	page      string
	pageArgs  []any
	count     string
	countArgs []any
}

// buildDirectoryQuery renders q into parameterized SQL. Sort input never
// reaches the statement text except through the allow-list.
func buildDirectoryQuery(q model.PageQuery) directoryQuery {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if s := strings.TrimSpace(q.Search); s != "" {
		add(`(username ILIKE $%[1]d OR email ILIKE $%[1]d OR first_name ILIKE $%[1]d OR last_name ILIKE $%[1]d)`,
			"%"+escapeLike(s)+"%")
	}
	if q.IsActive != nil {
		add(`is_active = $%d`, *q.IsActive)
	}

	filter := ""
	if len(where) > 0 {
		filter = "\nWHERE " + strings.Join(where, " AND ")
	}

	col := sortColumn(q.SortBy)
	order := col + " " + sortDirection(q.SortDir)
	if col != "user_id" {
		order += ", user_id ASC"
	}

	countArgs := append([]any(nil), args...)
	count := directoryBase + "\nSELECT COUNT(*) FROM base" + filter

	offset := q.PageIndex * q.PageSize
	pageArgs := append(args, q.PageSize, offset)
	page := fmt.Sprintf("%s\nSELECT %s FROM base%s\nORDER BY %s\nLIMIT $%d OFFSET $%d",
		directoryBase, directoryColumns, filter, order, len(args)+1, len(args)+2)

	return directoryQuery{page: page, pageArgs: pageArgs, count: count, countArgs: countArgs}
}
