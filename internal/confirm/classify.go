// Package confirm maps a short spoken reply to a confirmation intent.
package confirm

import "strings"

// Intent is the outcome of classifying a confirmation reply.
type Intent string

const (
	None    Intent = ""
	Confirm Intent = "CONFIRM"
	Cancel  Intent = "CANCEL"
	Retry   Intent = "RETRY"
)

var confirmWords = []string{"confirm", "yes", "ok", "好的", "是的", "确认"}

// Phrases that must never reach the cancel check.
var retryPhrases = []string{"我不确定", "你好"}

var cancelWords = []string{"cancel", "no", "否", "取消", "不要", "拒绝"}

var cancelExact = []string{"不", "否"}

// Classify maps a reply to Confirm, Cancel or Retry. Empty input yields None.
// Confirmation keywords are checked before the retry overrides, and both
// before cancellation keywords.
func Classify(text string) Intent {
	if text == "" {
		return None
	}
	lower := strings.ToLower(text)

	for _, kw := range confirmWords {
		if strings.Contains(lower, kw) {
			return Confirm
		}
	}

	for _, p := range retryPhrases {
		if text == p {
			return Retry
		}
	}

	for _, kw := range cancelWords {
		if strings.Contains(lower, kw) {
			return Cancel
		}
	}
	for _, p := range cancelExact {
		if text == p {
			return Cancel
		}
	}

	return Retry
}
