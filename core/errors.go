package core

import "errors"

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）和消息（Message）
//   - 同 Module + Code 的错误通过 errors.Is 视为同一类，允许用 fmt.Errorf("%w") 包装
//
// 使用场景：
//   - 向量维度不一致：DIMENSION_MISMATCH（数据/编程错误，不重试）
//   - 训练或个性化数据不足：INSUFFICIENT_DATA（上报，不致命）
//   - 单个召回源不可用：SOURCE_UNAVAILABLE（静默吸收，贡献 0 个候选）
//   - 所有层级耗尽：NO_CANDIDATES（调用方唯一可见的“无推荐”结果）
type DomainError struct {
	Code    string // 错误代码（如 "NOT_FOUND", "DIMENSION_MISMATCH"）
	Message string // 错误消息
	Module  string // 模块名称（如 "store", "vector", "recall"）
}

func (e *DomainError) Error() string {
	return e.Message
}

// Is 让 errors.Is 按 Module + Code 匹配，而不是按指针。
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && (t.Module == "" || e.Module == t.Module)
}

// IsDomainError 检查错误链中是否存在 DomainError
func IsDomainError(err error) bool {
	return GetDomainError(err) != nil
}

// GetDomainError 获取错误链中的第一个 DomainError，如果不存在则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// 错误代码常量
const (
	// 通用错误代码
	ErrorCodeNotFound      = "NOT_FOUND"      // 资源不存在
	ErrorCodeNotSupported  = "NOT_SUPPORTED"  // 操作不支持
	ErrorCodeUnavailable   = "UNAVAILABLE"    // 服务不可用
	ErrorCodeInvalidInput  = "INVALID_INPUT"  // 输入无效
	ErrorCodeInternalError = "INTERNAL_ERROR" // 内部错误

	// 推荐领域错误代码
	ErrorCodeDimensionMismatch = "DIMENSION_MISMATCH" // 向量长度不一致
	ErrorCodeInsufficientData  = "INSUFFICIENT_DATA"  // 交互/用户/物品过少
	ErrorCodeSourceUnavailable = "SOURCE_UNAVAILABLE" // 召回源或向量类型缺失
	ErrorCodeNoCandidates      = "NO_CANDIDATES"      // 所有召回与兜底层级均耗尽
)

// 模块名称常量
const (
	ModuleStore     = "store"     // 存储模块
	ModuleVector    = "vector"    // 向量模块
	ModuleRecall    = "recall"    // 召回模块
	ModuleRecommend = "recommend" // 融合排序模块
	ModuleTrain     = "train"     // 离线训练模块
	ModuleEncoder   = "encoder"   // 文本编码模块
)

// 推荐领域错误定义。Module 为空表示匹配任意模块的同 Code 错误。
var (
	ErrDimensionMismatch = NewDomainError("", ErrorCodeDimensionMismatch, "vector dimension mismatch")
	ErrInsufficientData  = NewDomainError("", ErrorCodeInsufficientData, "insufficient data")
	ErrSourceUnavailable = NewDomainError("", ErrorCodeSourceUnavailable, "recall source unavailable")
	ErrNoCandidatesFound = NewDomainError(ModuleRecommend, ErrorCodeNoCandidates, "no recommendations available")
)

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool {
	return hasCode(err, ErrorCodeNotFound)
}

// IsNotSupported 检查错误是否为 NOT_SUPPORTED
func IsNotSupported(err error) bool {
	return hasCode(err, ErrorCodeNotSupported)
}

// IsUnavailable 检查错误是否为 UNAVAILABLE
func IsUnavailable(err error) bool {
	return hasCode(err, ErrorCodeUnavailable)
}

// IsDimensionMismatch 检查错误是否为 DIMENSION_MISMATCH
func IsDimensionMismatch(err error) bool {
	return hasCode(err, ErrorCodeDimensionMismatch)
}

// IsInsufficientData 检查错误是否为 INSUFFICIENT_DATA
func IsInsufficientData(err error) bool {
	return hasCode(err, ErrorCodeInsufficientData)
}

// IsSourceUnavailable 检查错误是否为 SOURCE_UNAVAILABLE
func IsSourceUnavailable(err error) bool {
	return hasCode(err, ErrorCodeSourceUnavailable)
}

// IsNoCandidates 检查错误是否为 NO_CANDIDATES
func IsNoCandidates(err error) bool {
	return hasCode(err, ErrorCodeNoCandidates)
}

func hasCode(err error, code string) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}
