// Package convert maps domain types to and from google.protobuf.Struct messages.
package convert

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/user-directory/internal/errs"
	"github.com/and161185/user-directory/internal/model"
)

// --- field helpers ---

func field(s *structpb.Struct, key string) (*structpb.Value, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.GetFields()[key]
	if !ok {
		return nil, false
	}
	if _, null := v.GetKind().(*structpb.Value_NullValue); null {
		return nil, false
	}
	return v, true
}

// String reads an optional string field.
func String(s *structpb.Struct, key string) (string, bool, error) {
	v, ok := field(s, key)
	if !ok {
		return "", false, nil
	}
	sv, isStr := v.GetKind().(*structpb.Value_StringValue)
	if !isStr {
		return "", false, errs.Validationf("%s must be a string", key)
	}
	return sv.StringValue, true, nil
}

// Int reads an optional integral number field.
func Int(s *structpb.Struct, key string) (int64, bool, error) {
	v, ok := field(s, key)
	if !ok {
		return 0, false, nil
	}
	nv, isNum := v.GetKind().(*structpb.Value_NumberValue)
	if !isNum {
		return 0, false, errs.Validationf("%s must be a number", key)
	}
	f := nv.NumberValue
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Trunc(f) != f || math.Abs(f) > 1<<53 {
		return 0, false, errs.Validationf("%s must be an integer, got %v", key, f)
	}
	return int64(f), true, nil
}

// Bool reads an optional boolean field.
func Bool(s *structpb.Struct, key string) (bool, bool, error) {
	v, ok := field(s, key)
	if !ok {
		return false, false, nil
	}
	bv, isBool := v.GetKind().(*structpb.Value_BoolValue)
	if !isBool {
		return false, false, errs.Validationf("%s must be a boolean", key)
	}
	return bv.BoolValue, true, nil
}

func strPtr(s *structpb.Struct, key string) (*string, error) {
	v, ok, err := String(s, key)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// --- requests (client -> server) ---

// LoginFromStruct reads {username, password}.
func LoginFromStruct(s *structpb.Struct) (username, password string, err error) {
	if username, _, err = String(s, "username"); err != nil {
		return "", "", err
	}
	if password, _, err = String(s, "password"); err != nil {
		return "", "", err
	}
	return username, password, nil
}

// PageQueryFromStruct reads a listing request. pageIndex defaults to 0 and
// pageSize to model.DefaultPageSize; range checks are left to the service.
func PageQueryFromStruct(s *structpb.Struct) (model.PageQuery, error) {
	q := model.PageQuery{PageSize: model.DefaultPageSize}

	idx, _, err := Int(s, "pageIndex")
	if err != nil {
		return q, err
	}
	q.PageIndex = int(idx)

	size, ok, err := Int(s, "pageSize")
	if err != nil {
		return q, err
	}
	if ok {
		q.PageSize = int(size)
	}

	if q.SortBy, _, err = String(s, "sortBy"); err != nil {
		return q, err
	}
	if q.SortDir, _, err = String(s, "sortDir"); err != nil {
		return q, err
	}
	if q.Search, _, err = String(s, "search"); err != nil {
		return q, err
	}
	active, ok, err := Bool(s, "isActive")
	if err != nil {
		return q, err
	}
	if ok {
		q.IsActive = &active
	}
	return q, nil
}

// UserIDFromStruct reads the required userId field.
func UserIDFromStruct(s *structpb.Struct) (int64, error) {
	id, ok, err := Int(s, "userId")
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errs.Validationf("userId is required")
	}
	return id, nil
}

// CreateAccountFromStruct reads a create-user request.
func CreateAccountFromStruct(s *structpb.Struct) (model.CreateAccount, error) {
	var in model.CreateAccount
	var err error
	for key, dst := range map[string]*string{
		"username":  &in.Username,
		"email":     &in.Email,
		"password":  &in.Password,
		"firstName": &in.FirstName,
		"lastName":  &in.LastName,
		"role":      &in.Role,
	} {
		if *dst, _, err = String(s, key); err != nil {
			return model.CreateAccount{}, err
		}
	}
	active, ok, err := Bool(s, "isActive")
	if err != nil {
		return model.CreateAccount{}, err
	}
	in.IsActive = !ok || active
	return in, nil
}

// UpdateAccountFromStruct reads a partial update; absent fields stay nil.
func UpdateAccountFromStruct(s *structpb.Struct) (model.UpdateAccount, error) {
	id, err := UserIDFromStruct(s)
	if err != nil {
		return model.UpdateAccount{}, err
	}
	in := model.UpdateAccount{UserID: id}
	for key, dst := range map[string]**string{
		"username":  &in.Username,
		"email":     &in.Email,
		"firstName": &in.FirstName,
		"lastName":  &in.LastName,
		"role":      &in.Role,
	} {
		if *dst, err = strPtr(s, key); err != nil {
			return model.UpdateAccount{}, err
		}
	}
	active, ok, err := Bool(s, "isActive")
	if err != nil {
		return model.UpdateAccount{}, err
	}
	if ok {
		in.IsActive = &active
	}
	return in, nil
}

// --- responses (server -> client) ---

// ToStructUserRow renders one directory row.
func ToStructUserRow(u model.UserRow) *structpb.Struct {
	return &structpb.Struct{Fields: userRowFields(u)}
}

func userRowFields(u model.UserRow) map[string]*structpb.Value {
	return map[string]*structpb.Value{
		"userId":      structpb.NewNumberValue(float64(u.UserID)),
		"userName":    structpb.NewStringValue(u.Username),
		"firstName":   structpb.NewStringValue(u.FirstName),
		"lastName":    structpb.NewStringValue(u.LastName),
		"email":       structpb.NewStringValue(u.Email),
		"isActive":    structpb.NewBoolValue(u.IsActive),
		"createdDate": structpb.NewStringValue(ts(u.CreatedDate)),
		"role":        structpb.NewStringValue(u.Role),
	}
}

// ToStructPageResult renders {items, total, pageIndex, pageSize}.
func ToStructPageResult(r model.PageResult) *structpb.Struct {
	items := make([]*structpb.Value, 0, len(r.Items))
	for _, u := range r.Items {
		items = append(items, structpb.NewStructValue(ToStructUserRow(u)))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"items":     structpb.NewListValue(&structpb.ListValue{Values: items}),
		"total":     structpb.NewNumberValue(float64(r.Total)),
		"pageIndex": structpb.NewNumberValue(float64(r.PageIndex)),
		"pageSize":  structpb.NewNumberValue(float64(r.PageSize)),
	}}
}

// ToStructRoles renders {roles: [{id, name, claims: [{type, value}]}]}.
func ToStructRoles(roles []model.Role) *structpb.Struct {
	out := make([]*structpb.Value, 0, len(roles))
	for _, r := range roles {
		claims := make([]*structpb.Value, 0, len(r.Claims))
		for _, c := range r.Claims {
			claims = append(claims, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
				"type":  structpb.NewStringValue(c.Type),
				"value": structpb.NewStringValue(c.Value),
			}}))
		}
		out = append(out, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"id":     structpb.NewStringValue(r.ID),
			"name":   structpb.NewStringValue(r.Name),
			"claims": structpb.NewListValue(&structpb.ListValue{Values: claims}),
		}}))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"roles": structpb.NewListValue(&structpb.ListValue{Values: out}),
	}}
}

// ToStructTokens renders {accessToken, expiresAt}.
func ToStructTokens(t model.Tokens) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"accessToken": structpb.NewStringValue(t.AccessToken),
		"expiresAt":   structpb.NewStringValue(ts(t.ExpiresAt)),
		"tokenType":   structpb.NewStringValue("Bearer"),
	}}
}

// ToStructUserID renders {userId}.
func ToStructUserID(id int64) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"userId": structpb.NewNumberValue(float64(id)),
	}}
}

// ToStructMessage renders {message}.
func ToStructMessage(format string, args ...any) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"message": structpb.NewStringValue(fmt.Sprintf(format, args...)),
	}}
}
