package progress

// SigStatus 表示一笔交易签名的处理状态
type SigStatus int

const (
	SigUnknown SigStatus = 0 // Redis 不存在
	SigIndexed SigStatus = 1 // 已解析并落库（可能没有产生记录）
	SigSkipped SigStatus = 2 // 链上失败或 LUT 无法解析，明确跳过
)

func (s SigStatus) Handled() bool {
	return s == SigIndexed || s == SigSkipped
}

func (s SigStatus) String() string {
	switch s {
	case SigIndexed:
		return "indexed"
	case SigSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}
