package core

import "time"

// Book 是推荐的物品实体。内容/CF/图向量不在结构体中，统一存放于 VectorStore。
type Book struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Author      string   `json:"author,omitempty"`
	Description string   `json:"description,omitempty"`
	Genres      []string `json:"genres,omitempty"`

	// Score 只在单次推荐结果中有意义
	Score float64 `json:"score"`
}

// KYCPreferences 是用户自述的阅读偏好（注册后通过偏好更新写入）。
type KYCPreferences struct {
	Genres      []string `json:"genres,omitempty"`
	Authors     []string `json:"authors,omitempty"`
	Age         *int     `json:"age,omitempty"`
	Description string   `json:"description,omitempty"`
}

// IsEmpty 判断偏好是否没有任何可编码的内容。
func (p *KYCPreferences) IsEmpty() bool {
	if p == nil {
		return true
	}
	return len(p.Genres) == 0 && len(p.Authors) == 0 && p.Age == nil && p.Description == ""
}

// User 是推荐的用户实体。KYC 向量与 CF 向量存放于 VectorStore。
type User struct {
	ID          string          `json:"id"`
	Preferences *KYCPreferences `json:"preferences,omitempty"`
}

// InteractionKind 是用户对图书的行为类型。
type InteractionKind string

const (
	InteractionClick    InteractionKind = "click"
	InteractionView     InteractionKind = "view"
	InteractionLike     InteractionKind = "like"
	InteractionDislike  InteractionKind = "dislike"
	InteractionRating   InteractionKind = "rating"
	InteractionPurchase InteractionKind = "purchase"
	InteractionShare    InteractionKind = "share"
)

// Valid 判断行为类型是否合法。
func (k InteractionKind) Valid() bool {
	switch k {
	case InteractionClick, InteractionView, InteractionLike, InteractionDislike,
		InteractionRating, InteractionPurchase, InteractionShare:
		return true
	default:
		return false
	}
}

// implicitWeights 是没有显式评分时的隐式评分，两个离线训练共用。
// purchase > like > rating(默认) > view > click，其余类型取中间值。
var implicitWeights = map[InteractionKind]float64{
	InteractionPurchase: 5.0,
	InteractionLike:     4.0,
	InteractionRating:   3.0,
	InteractionView:     2.0,
	InteractionClick:    1.0,
}

// DefaultImplicitWeight 是未列出行为类型（dislike/share）的隐式评分。
const DefaultImplicitWeight = 2.5

// Interaction 是用户-图书交互记录，只追加不修改，是训练与评估的唯一信号来源。
type Interaction struct {
	UserID    string          `json:"user_id"`
	BookID    int64           `json:"book_id"`
	Kind      InteractionKind `json:"interaction_type"`
	Rating    *float64        `json:"rating,omitempty"` // [0,5]
	CreatedAt time.Time       `json:"created_at"`
}

// ImplicitWeight 返回交互的训练权重：有显式评分时使用评分，否则按行为类型映射。
func (in Interaction) ImplicitWeight() float64 {
	if in.Rating != nil {
		return *in.Rating
	}
	if w, ok := implicitWeights[in.Kind]; ok {
		return w
	}
	return DefaultImplicitWeight
}

// HasRating 判断是否带显式评分。
func (in Interaction) HasRating() bool {
	return in.Rating != nil
}
