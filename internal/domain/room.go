package domain

import "time"

// RoomType 房间类型，目前只有 vm。
type RoomType string

const RoomTypeVM RoomType = "vm"

// Valid 报告房间类型是否可用。
func (t RoomType) Valid() bool {
	return t == RoomTypeVM
}

// PortalStatus 表示门户 (远程会话) 的分配状态。
type PortalStatus string

const (
	PortalWaiting   PortalStatus = "waiting"   // 等待满足创建条件
	PortalRequested PortalStatus = "requested" // 已向门户服务发出创建请求
	PortalInQueue   PortalStatus = "in-queue"  // 在门户服务的队列中
	PortalCreating  PortalStatus = "creating"
	PortalStarting  PortalStatus = "starting"
	PortalOpen      PortalStatus = "open" // 已连接到服务器，可以推流
	PortalClosed    PortalStatus = "closed"
	PortalError     PortalStatus = "error"
)

var knownStatuses = map[PortalStatus]struct{}{
	PortalWaiting: {}, PortalRequested: {}, PortalInQueue: {}, PortalCreating: {},
	PortalStarting: {}, PortalOpen: {}, PortalClosed: {}, PortalError: {},
}

// UnallocatedStatuses 处于这些状态的房间没有活跃的门户。
var UnallocatedStatuses = []PortalStatus{PortalWaiting, PortalRequested, PortalError, PortalClosed}

// ClaimableStatuses 是可以发起门户创建的状态，不包含 requested 本身。
var ClaimableStatuses = []PortalStatus{PortalWaiting, PortalError, PortalClosed}

// Valid 报告状态值是否合法。
func (s PortalStatus) Valid() bool {
	_, ok := knownStatuses[s]
	return ok
}

// IsUnallocated 报告该状态是否属于未分配集合。
func (s PortalStatus) IsUnallocated() bool {
	for _, u := range UnallocatedStatuses {
		if s == u {
			return true
		}
	}
	return false
}

// Claimable 报告是否可以从该状态发起门户创建。
func (s PortalStatus) Claimable() bool {
	for _, c := range ClaimableStatuses {
		if s == c {
			return true
		}
	}
	return false
}

// PortalAllocation 描述房间当前的门户分配。
// JanusID 为 -1 表示门户没有运行 janus 实例，此时使用 aperture 推流。
type PortalAllocation struct {
	ID            *string      `gorm:"size:64;index" json:"id,omitempty"`
	Status        PortalStatus `gorm:"size:16;not null;default:waiting" json:"status"`
	JanusID       *int         `json:"janusId,omitempty"`
	JanusIP       string       `gorm:"size:64" json:"janusIp,omitempty"`
	LastUpdatedAt time.Time    `json:"lastUpdatedAt"`
}

// HasID 报告门户是否已经被分配了 ID。
func (p PortalAllocation) HasID() bool {
	return p.ID != nil && *p.ID != ""
}

// UsesJanus 报告门户是否通过 janus 推流。
func (p PortalAllocation) UsesJanus() bool {
	return p.JanusID != nil && *p.JanusID != -1
}

// PortalPatch 是门户分配的部分更新，nil 字段保持原值。
type PortalPatch struct {
	ID      *string       `json:"id,omitempty"`
	Status  *PortalStatus `json:"status,omitempty"`
	JanusID *int          `json:"janusId,omitempty"`
	JanusIP *string       `json:"janusIp,omitempty"`
}

// Merge 把 patch 合并到当前分配上并刷新 LastUpdatedAt。
// 合并后状态为 closed 时门户 ID 会被清除。
func (p PortalAllocation) Merge(patch PortalPatch, now time.Time) PortalAllocation {
	merged := p
	if patch.ID != nil {
		id := *patch.ID
		merged.ID = &id
	}
	if patch.Status != nil {
		merged.Status = *patch.Status
	}
	if patch.JanusID != nil {
		jid := *patch.JanusID
		merged.JanusID = &jid
	}
	if patch.JanusIP != nil {
		merged.JanusIP = *patch.JanusIP
	}
	if merged.Status == PortalClosed {
		merged.ID = nil
	}
	merged.LastUpdatedAt = now
	return merged
}

// Room 表示一个共享房间。
// 成员列表不保存在房间上，通过 users.room_id 反查。
type Room struct {
	ID           string           `gorm:"primaryKey;size:36" json:"id"`
	Type         RoomType         `gorm:"size:16;not null;default:vm" json:"type"`
	Name         string           `gorm:"size:64;not null" json:"name"`
	OwnerID      string           `gorm:"size:36;not null" json:"owner"`
	ControllerID *string          `gorm:"size:36" json:"controller"`
	Portal       PortalAllocation `gorm:"embedded;embeddedPrefix:portal_" json:"portal"`
	CreatedAt    time.Time        `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time        `gorm:"autoUpdateTime" json:"-"`
}

// IsOwner 报告 userID 是否为房主。
func (r *Room) IsOwner(userID string) bool {
	return r.OwnerID == userID
}

// Controller 返回当前控制者 ID，无人控制时为空字符串。
func (r *Room) Controller() string {
	if r.ControllerID == nil {
		return ""
	}
	return *r.ControllerID
}
