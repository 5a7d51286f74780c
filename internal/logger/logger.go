package logger

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger 注入式日志接口。核心组件在构造时接收实例，
// 不依赖进程级单例，也不依赖日志投递成功。
type Logger interface {
	Printf(format string, args ...any)
	Debugf(format string, args ...any)
}

// StdLogger 基于标准库log的实现
type StdLogger struct {
	l     *log.Logger
	debug bool
}

// New 创建带前缀的日志器
func New(prefix string, debug bool) *StdLogger {
	return &StdLogger{
		l:     log.New(os.Stdout, prefix+" ", log.LstdFlags|log.Lshortfile),
		debug: debug,
	}
}

// NewWithWriter 创建写入指定目标的日志器，测试用
func NewWithWriter(w io.Writer, prefix string, debug bool) *StdLogger {
	return &StdLogger{
		l:     log.New(w, prefix+" ", log.LstdFlags),
		debug: debug,
	}
}

func (s *StdLogger) Printf(format string, args ...any) {
	s.l.Output(2, fmt.Sprintf(format, args...))
}

func (s *StdLogger) Debugf(format string, args ...any) {
	if !s.debug {
		return
	}
	s.l.Output(2, "[debug] "+fmt.Sprintf(format, args...))
}

// WithContext 派生带附加上下文前缀的日志器
func (s *StdLogger) WithContext(context string) *StdLogger {
	return &StdLogger{
		l:     log.New(s.l.Writer(), s.l.Prefix()+"["+context+"] ", s.l.Flags()),
		debug: s.debug,
	}
}

// Nop 丢弃所有输出的日志器，测试用
type Nop struct{}

func (Nop) Printf(format string, args ...any) {}
func (Nop) Debugf(format string, args ...any) {}
