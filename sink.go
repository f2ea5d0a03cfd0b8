package microboot

import (
	"io"
	"strings"
	"sync"
)

// Sink 每次帧交换后被调用, received 为空表示没有应答 (如复位命令)
type Sink func(sent, received string)

func nopSink(string, string) {}

func withEOL(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

/*
 * @Description: 传输日志, 发送的帧以 ">" 开头, 收到的帧以 "<" 开头
 * @param w 日志输出
 * @return Sink
 */
func NewTransferLog(w io.Writer) Sink {
	var mu sync.Mutex
	return func(sent, received string) {
		mu.Lock()
		defer mu.Unlock()
		_, _ = io.WriteString(w, ">"+withEOL(sent))
		if received != "" {
			_, _ = io.WriteString(w, "<"+withEOL(received))
		}
	}
}
