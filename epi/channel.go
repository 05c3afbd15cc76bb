// Package epi implements the External Process Interface: a framed-JSON
// protocol that lets arbitrary solvers and problems run as child processes
// while preserving the same contracts as in-process ones.
//
// Every message is a single line on the peer's pipe: the literal tag
// "kurobako:" followed by the JSON encoding of the message, terminated by a
// newline. Lines without the tag are log output and are relayed to the
// host's error stream, so child programs may print freely on stdout.
package epi

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	kurobako "github.com/HideakiImamura/kurobako"
)

// messageTag prefixes every framed message on the wire.
const messageTag = "kurobako:"

// MessageSender writes framed messages to a byte stream. It is not safe for
// concurrent use; callers serialize access (see process).
type MessageSender struct {
	w *bufio.Writer
}

// NewMessageSender makes a sender writing to w.
func NewMessageSender(w io.Writer) *MessageSender {
	return &MessageSender{w: bufio.NewWriter(w)}
}

// Send writes one framed message and flushes.
func (s *MessageSender) Send(message any) error {
	encoded, err := json.Marshal(message)
	if err != nil {
		return kurobako.WrapError(kurobako.Bug, err, "encode message")
	}
	if _, err := s.w.WriteString(messageTag); err != nil {
		return kurobako.WrapError(kurobako.IOError, err, "write message tag")
	}
	if _, err := s.w.Write(encoded); err != nil {
		return kurobako.WrapError(kurobako.IOError, err, "write message body")
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return kurobako.WrapError(kurobako.IOError, err, "write message terminator")
	}
	if err := s.w.Flush(); err != nil {
		return kurobako.WrapError(kurobako.IOError, err, "flush message")
	}
	return nil
}

// MessageReceiver reads framed messages from a byte stream, forwarding
// untagged lines to a log sink. It is not safe for concurrent use.
type MessageReceiver struct {
	r    *bufio.Reader
	logw io.Writer
}

// NewMessageReceiver makes a receiver reading from r. Untagged lines are
// copied to logw.
func NewMessageReceiver(r io.Reader, logw io.Writer) *MessageReceiver {
	return &MessageReceiver{r: bufio.NewReader(r), logw: logw}
}

// Recv reads the next framed message and returns its type tag together with
// the raw JSON payload. EOF before a framed line yields a TransportClosed
// error; malformed JSON after the tag yields IOError.
func (r *MessageReceiver) Recv() (msgType string, raw json.RawMessage, err error) {
	for {
		// A partial line at EOF still counts if tagged.
		line, err := r.r.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", nil, kurobako.WrapError(kurobako.IOError, err, "read message line")
		}
		if err == io.EOF && line == "" {
			return "", nil, kurobako.NewError(kurobako.TransportClosed, "peer closed its stream")
		}

		if !strings.HasPrefix(line, messageTag) {
			if line != "" {
				io.WriteString(r.logw, line)
			}
			if err == io.EOF {
				return "", nil, kurobako.NewError(kurobako.TransportClosed, "peer closed its stream")
			}
			continue
		}

		payload := strings.TrimSuffix(strings.TrimPrefix(line, messageTag), "\n")
		var envelope struct {
			Type string `json:"type"`
		}
		if jsonErr := json.Unmarshal([]byte(payload), &envelope); jsonErr != nil {
			return "", nil, kurobako.WrapError(kurobako.IOError, jsonErr, "malformed message")
		}
		if envelope.Type == "" {
			return "", nil, kurobako.NewError(kurobako.IOError, "message has no type")
		}
		return envelope.Type, json.RawMessage(payload), nil
	}
}
