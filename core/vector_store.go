package core

import "context"

// VectorKind 是向量的种类。同一维度组内的向量长度必须一致。
type VectorKind string

const (
	VectorKindContent VectorKind = "content" // 图书内容向量（文本编码）
	VectorKindKYC     VectorKind = "kyc"     // 用户 KYC 偏好向量（文本编码）
	VectorKindCF      VectorKind = "cf"      // 协同过滤隐向量（用户与图书共用）
	VectorKindGraph   VectorKind = "graph"   // 图传播向量（仅图书）
)

// DimensionGroup 返回向量所属的维度组：content 与 kyc 由同一个编码器产生，共享维度。
func (k VectorKind) DimensionGroup() string {
	if k == VectorKindKYC {
		return string(VectorKindContent)
	}
	return string(k)
}

// Valid 判断向量种类是否合法。
func (k VectorKind) Valid() bool {
	switch k {
	case VectorKindContent, VectorKindKYC, VectorKindCF, VectorKindGraph:
		return true
	default:
		return false
	}
}

// CandidateRecord 是采样得到的一条打分输入：图书 ID、该种类的向量、图书元数据。
type CandidateRecord struct {
	ID     int64
	Vector []float64
	Book   *Book
}

// BookPopularity 是采样策略的输入：拥有某类向量的图书及其交互次数。
type BookPopularity struct {
	ID               int64
	InteractionCount int
}

// SamplingPolicy 决定每次请求/训练需要打分的图书集合，使打分成本与目录规模无关。
type SamplingPolicy interface {
	// Select 从符合条件的图书中选出需要打分的 ID，结果必须是确定的（可复现）
	Select(eligible []BookPopularity) []int64
}

// VectorStore 是向量存储的领域接口（Vector Store Accessor）。
//
// 设计原则：
//   - 读取不存在的向量返回 (nil, nil)，而不是错误
//   - 写入时校验维度组一致性，不一致返回 ErrDimensionMismatch
//   - 批量写入要么全部成功要么全部不生效，训练失败时不留下部分覆盖
//
// 实现：
//   - store.MemoryRepository（测试/开发）
//   - store.KVVectorStore（基于 core.KeyValueStore，可接 Redis）
//   - postgres.DB（pgvector）
type VectorStore interface {
	// GetUserVector 读取用户向量（kyc / cf）
	GetUserVector(ctx context.Context, userID string, kind VectorKind) ([]float64, error)

	// GetBookVector 读取图书向量（content / cf / graph）
	GetBookVector(ctx context.Context, bookID int64, kind VectorKind) ([]float64, error)

	// BookVectors 批量读取图书向量，缺失的图书不出现在结果中
	BookVectors(ctx context.Context, kind VectorKind, bookIDs []int64) (map[int64][]float64, error)

	// SetUserVectors 批量覆盖用户向量
	SetUserVectors(ctx context.Context, kind VectorKind, vectors map[string][]float64) error

	// SetBookVectors 批量覆盖图书向量
	SetBookVectors(ctx context.Context, kind VectorKind, vectors map[int64][]float64) error

	// CountWithVector 统计拥有该种类向量的图书数量
	CountWithVector(ctx context.Context, kind VectorKind) (int, error)

	// ListCandidates 按采样策略返回需要打分的图书及其向量
	ListCandidates(ctx context.Context, kind VectorKind, policy SamplingPolicy) ([]CandidateRecord, error)
}

// VectorResetter 是 VectorStore 的可选扩展：清空 kind 所在维度组内的全部用户与图书向量，
// 并解除该组的维度登记，之后可以写入新维度的向量。
type VectorResetter interface {
	ResetVectors(ctx context.Context, kind VectorKind) error
}

// InteractionStore 是交互记录的只读接口。
type InteractionStore interface {
	// ListInteractions 返回用户的全部交互；userID 为空时返回所有用户的交互（按时间升序）
	ListInteractions(ctx context.Context, userID string) ([]Interaction, error)

	// CountInteractions 返回用户的交互总数
	CountInteractions(ctx context.Context, userID string) (int, error)
}

// UserStore 读取用户及其 KYC 偏好。用户不存在时返回 ErrStoreNotFound。
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*User, error)
}

// UserLister 是 UserStore 的可选扩展，用于离线批量生成 KYC 向量。
type UserLister interface {
	ListUsers(ctx context.Context) ([]*User, error)
}

// BookCatalog 是图书目录的只读接口，供兜底层级与结果补全使用。
type BookCatalog interface {
	// GetBooks 批量读取图书，不存在的 ID 不出现在结果中
	GetBooks(ctx context.Context, ids []int64) (map[int64]*Book, error)

	// FindByGenresOrAuthors 返回与任一类型或作者匹配、且不在 exclude 中的图书。
	// 顺序：作者命中优先，其次按 ID 降序。
	FindByGenresOrAuthors(ctx context.Context, genres, authors []string, exclude map[int64]struct{}, limit int) ([]*Book, error)

	// ListRecent 返回不在 exclude 中的图书，按 ID 降序（目录新近程度）
	ListRecent(ctx context.Context, exclude map[int64]struct{}, limit int) ([]*Book, error)

	// ListBooks 按 ID 升序分页遍历目录，afterID 为上一页最后一个 ID
	ListBooks(ctx context.Context, afterID int64, limit int) ([]*Book, error)
}

// TextEncoder 是外部文本编码能力：相同输入得到相同向量，维度固定。
type TextEncoder interface {
	Encode(ctx context.Context, text string) ([]float64, error)
	Dimensions() int
}
