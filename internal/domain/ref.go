package domain

import (
	"context"
	"encoding/json"
)

// UserRef 引用一个用户：要么只有 ID，要么已经加载了完整的用户。
type UserRef struct {
	id   string
	user *User
}

// Ref 创建一个只有 ID 的引用。
func Ref(id string) UserRef {
	return UserRef{id: id}
}

// Loaded 创建一个已加载的引用。
func Loaded(u *User) UserRef {
	if u == nil {
		return UserRef{}
	}
	return UserRef{id: u.ID, user: u}
}

// ID 返回被引用用户的 ID。
func (r UserRef) ID() string { return r.id }

// IsZero 报告引用是否为空。
func (r UserRef) IsZero() bool { return r.id == "" }

// User 返回已加载的用户。
func (r UserRef) User() (*User, bool) {
	return r.user, r.user != nil
}

// Resolve 在引用尚未加载时通过 lookup 加载用户。
func (r UserRef) Resolve(ctx context.Context, lookup func(ctx context.Context, id string) (*User, error)) (UserRef, error) {
	if r.user != nil || r.id == "" {
		return r, nil
	}
	u, err := lookup(ctx, r.id)
	if err != nil {
		return r, err
	}
	return Loaded(u), nil
}

// MarshalJSON 已加载时输出用户对象，否则输出 ID，空引用输出 null。
func (r UserRef) MarshalJSON() ([]byte, error) {
	switch {
	case r.user != nil:
		return json.Marshal(r.user)
	case r.id != "":
		return json.Marshal(r.id)
	default:
		return []byte("null"), nil
	}
}
