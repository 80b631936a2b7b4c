package hub

import "time"

// heartbeatVerdict 是一次心跳检查的结果。
type heartbeatVerdict int

const (
	heartbeatHealthy heartbeatVerdict = iota
	heartbeatForce                    // 发送强制心跳请求
	heartbeatEvict                    // 关闭连接
)

// heartbeatMonitor 记录连续错过心跳的次数。只在连接自己的计时 goroutine 中使用。
type heartbeatMonitor struct {
	leeway time.Duration
	max    int
	misses int
}

func newHeartbeatMonitor(interval time.Duration, max int) *heartbeatMonitor {
	return &heartbeatMonitor{leeway: interval * 5 / 4, max: max}
}

// check 根据最后一次心跳时间判断连接状态。
// 在 1.25 倍间隔内有心跳则清零计数，否则计数加一，超过上限时要求关闭。
func (m *heartbeatMonitor) check(lastHeartbeatAt, now time.Time) heartbeatVerdict {
	if now.Sub(lastHeartbeatAt) < m.leeway {
		m.misses = 0
		return heartbeatHealthy
	}
	m.misses++
	if m.misses > m.max {
		return heartbeatEvict
	}
	return heartbeatForce
}
