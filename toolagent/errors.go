// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

package toolagent

import "fmt"

// UpstreamError is returned when the MCP server (or the agent runtime in
// front of it) fails. The provider-specific detail is preserved so
// callers can inspect it with errors.As; nothing upstream is swallowed.
type UpstreamError struct {
	Provider string // server URL or registered name
	Status   int    // HTTP status, 0 when the request never completed
	Detail   string // provider-specific error detail, verbatim
	Err      error  // underlying transport error, if any
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("upstream tool agent error from %s", e.Provider)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
