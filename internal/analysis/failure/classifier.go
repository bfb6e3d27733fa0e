package failure

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
)

// Kind is a member of the fixed failure taxonomy.
type Kind string

const (
	None                   Kind = ""
	PermissionDenied       Kind = "permission_denied"
	InsecureTransport      Kind = "insecure_transport"
	AssistantMisconfigured Kind = "assistant_misconfigured"
	NetworkFailure         Kind = "network_failure"
	Timeout                Kind = "timeout"
	Unknown                Kind = "unknown"
)

// Rule pairs a predicate over lower-cased failure text with its kind.
type Rule struct {
	Kind  Kind
	Match func(text string) bool
}

func containsAny(words ...string) func(string) bool {
	return func(text string) bool {
		for _, w := range words {
			if strings.Contains(text, w) {
				return true
			}
		}
		return false
	}
}

// rules is evaluated in order; the first match wins.
var rules = []Rule{
	{Kind: PermissionDenied, Match: containsAny("permission")},
	{Kind: InsecureTransport, Match: containsAny("secure", "https")},
	{Kind: AssistantMisconfigured, Match: containsAny("assistant")},
}

// Classify maps raw failure text to a kind. Text matching never yields
// Timeout or NetworkFailure; those come from FromError.
func Classify(raw string) Kind {
	text := strings.ToLower(raw)
	for _, rule := range rules {
		if rule.Match(text) {
			return rule.Kind
		}
	}
	return Unknown
}

// FromError classifies a Go error. Deadline expiry is a Timeout and
// transport failures are NetworkFailure; everything else goes through
// the text rules.
func FromError(err error) Kind {
	if err == nil {
		return None
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return NetworkFailure
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return NetworkFailure
	}

	return Classify(err.Error())
}

var userMessages = map[Kind]string{
	PermissionDenied:       "Microphone permission was denied. Please allow microphone access in your browser and try again.",
	InsecureTransport:      "Voice calls need a secure (HTTPS) connection. Please open this page over HTTPS.",
	AssistantMisconfigured: "The voice assistant isn't configured correctly. Please check the assistant settings.",
	NetworkFailure:         "The connection dropped. Please check your network and try again.",
	Timeout:                "That took too long to respond. Please try again in a moment.",
	Unknown:                "Something went wrong. Please try again.",
}

// UserMessage returns the text shown to the user for a kind.
func UserMessage(kind Kind) string {
	if msg, ok := userMessages[kind]; ok {
		return msg
	}
	return userMessages[Unknown]
}
