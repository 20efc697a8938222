package safe

import (
	"HProject/logger"
)

// Go 启动一个带 recover 的后台协程，panic 只打日志不拖垮进程
func Go(name string, f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe.Go] %s panic recovered: %v", name, r)
			}
		}()
		f()
	}()
}

// DefaultString 指针取值，nil 给默认值
func DefaultString(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

// DefaultInt 指针取值，nil 给默认值
func DefaultInt(i *int, fallback int) int {
	if i == nil {
		return fallback
	}
	return *i
}
