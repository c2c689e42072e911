package notify

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
)

// startFakeSMTP は1接続だけ処理する最小限のSMTPサーバーを起動し、受信したDATAを返すチャネルを返す。
func startFakeSMTP(t *testing.T) (string, int, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	received := make(chan string, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		tp := textproto.NewConn(conn)
		tp.PrintfLine("220 localhost ESMTP")
		var data string
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			cmd := strings.ToUpper(line)
			switch {
			case strings.HasPrefix(cmd, "EHLO"):
				tp.PrintfLine("250-localhost")
				tp.PrintfLine("250 8BITMIME")
			case strings.HasPrefix(cmd, "MAIL FROM"), strings.HasPrefix(cmd, "RCPT TO"):
				tp.PrintfLine("250 OK")
			case cmd == "DATA":
				tp.PrintfLine("354 go ahead")
				b, err := tp.ReadDotBytes()
				if err != nil {
					return
				}
				data = string(b)
				tp.PrintfLine("250 OK")
			case cmd == "QUIT":
				tp.PrintfLine("221 bye")
				received <- data
				return
			default:
				tp.PrintfLine("502 not implemented")
			}
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		<-done
	})

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return host, port, received
}

func TestSMTPSender_Send_DeliversMessage(t *testing.T) {
	host, port, received := startFakeSMTP(t)
	sender := NewSMTPSender(SMTPConfig{Host: host, Port: port})

	err := sender.Send(context.Background(), Message{
		From:    "noreply@gmail.com",
		To:      "emp@gmail.com",
		Subject: "ログイン確認コード",
		Body:    "code:\n012345",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	data := <-received
	if !strings.Contains(data, "To: emp@gmail.com") {
		t.Errorf("message should contain To header, got %q", data)
	}
	if !strings.Contains(data, "=?UTF-8?b?") {
		t.Errorf("subject should be RFC 2047 encoded, got %q", data)
	}
	if !strings.Contains(data, "012345") {
		t.Errorf("message should contain body, got %q", data)
	}
}

func TestSMTPSender_Send_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()
	port, _ := strconv.Atoi(portStr)

	sender := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: port})
	if err := sender.Send(context.Background(), Message{From: "a@gmail.com", To: "b@gmail.com"}); err == nil {
		t.Error("Send() should fail when server is unreachable")
	}
}

// ヘッダーに改行を含むメッセージは送信前に拒否する
func TestBuildMessage_RejectsHeaderInjection(t *testing.T) {
	_, err := buildMessage(Message{
		From:    "a@gmail.com",
		To:      "b@gmail.com\r\nBcc: c@gmail.com",
		Subject: "hi",
	})
	if !errors.Is(err, errHeaderInjection) {
		t.Errorf("err = %v, want errHeaderInjection", err)
	}
}

func TestBuildMessage_NormalizesLineEndings(t *testing.T) {
	b, err := buildMessage(Message{From: "a@gmail.com", To: "b@gmail.com", Subject: "hi", Body: "line1\nline2"})
	if err != nil {
		t.Fatalf("buildMessage() error = %v", err)
	}
	if !strings.HasSuffix(string(b), "\r\n\r\nline1\r\nline2") {
		t.Errorf("body should use CRLF, got %q", string(b))
	}
}
