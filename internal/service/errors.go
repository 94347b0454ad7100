// Package service 包含了应用的业务逻辑层。
package service

import "errors"

// 输入校验类错误：同步报告给调用方，不改变任何状态。
var (
	ErrEmptyQuestion    = errors.New("问题内容为空")
	ErrUnsupportedType  = errors.New("不支持的文件类型")
	ErrFileTooLarge     = errors.New("文件超出大小限制")
	ErrEmptyDocument    = errors.New("文档内容为空或无法提取文本")
	ErrDocumentNotFound = errors.New("文档不存在")
	ErrSessionNotFound  = errors.New("会话不存在")
)

// IsInputRejection 判断一个错误是否属于输入校验类错误（应映射为 400）。
func IsInputRejection(err error) bool {
	return errors.Is(err, ErrEmptyQuestion) ||
		errors.Is(err, ErrUnsupportedType) ||
		errors.Is(err, ErrFileTooLarge) ||
		errors.Is(err, ErrEmptyDocument)
}
