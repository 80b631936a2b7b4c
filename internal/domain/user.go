// Package domain 定义网关使用的核心数据结构 (房间、用户、门户分配、事件帧)。
package domain

import "time"

// User 表示一个可以加入房间的用户。
// 成员关系保存在用户一侧：RoomID 指向其所在的房间，为 nil 表示不在任何房间中。
type User struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"size:64;not null" json:"name"`
	Avatar    string    `gorm:"size:255" json:"avatar,omitempty"`
	RoomID    *string   `gorm:"index;size:36" json:"room,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"-"`
}

// InRoom 报告用户当前是否属于某个房间。
func (u *User) InRoom() bool {
	return u != nil && u.RoomID != nil && *u.RoomID != ""
}

// Room 返回用户所在房间的 ID，不在房间中时返回空字符串。
func (u *User) Room() string {
	if !u.InRoom() {
		return ""
	}
	return *u.RoomID
}
