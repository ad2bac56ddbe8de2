package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/op2gl/op2gl/internal/align"
	"github.com/op2gl/op2gl/internal/elevation"
	"github.com/op2gl/op2gl/internal/gitlab"
	"github.com/op2gl/op2gl/internal/importer"
	"github.com/op2gl/op2gl/internal/ui"
)

// Exit codes
const (
	exitOK         = 0
	exitError      = 1
	exitConflict   = 2 // target counter is past a legacy ID
	exitElevated   = 3 // administrator rights left behind
	exitIncomplete = 4 // run finished with skipped issues
)

// partialError reports a run that finished with failed issues. Failed
// issues were never created; Incomplete ones exist without their full
// history or state.
type partialError struct {
	Failed     []int
	Incomplete []int
}

func (e *partialError) Error() string {
	switch {
	case len(e.Incomplete) == 0:
		return fmt.Sprintf("%d issue(s) failed and were skipped: %v", len(e.Failed), e.Failed)
	case len(e.Failed) == 0:
		return fmt.Sprintf("%d issue(s) were created but are incomplete: %v", len(e.Incomplete), e.Incomplete)
	}
	return fmt.Sprintf("%d issue(s) failed and were skipped: %v; %d created but incomplete: %v",
		len(e.Failed), e.Failed, len(e.Incomplete), e.Incomplete)
}

// newPartialError splits failures by whether the issue exists on the
// target. It returns nil when there are none.
func newPartialError(failed []importer.Failure) *partialError {
	if len(failed) == 0 {
		return nil
	}
	e := &partialError{}
	for _, f := range failed {
		if f.Incomplete() {
			e.Incomplete = append(e.Incomplete, f.LegacyID)
		} else {
			e.Failed = append(e.Failed, f.LegacyID)
		}
	}
	return e
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var revoke *elevation.RevocationError
	var conflict *align.ConflictError
	var partial *partialError
	switch {
	case errors.As(err, &revoke):
		return exitElevated
	case errors.As(err, &conflict):
		return exitConflict
	case errors.As(err, &partial):
		return exitIncomplete
	}
	return exitError
}

// reportError prints err with what the operator needs to continue by hand.
func reportError(w io.Writer, err error) {
	if errors.Is(err, errAborted) {
		fmt.Fprintln(w, "Aborted.")
		return
	}
	fmt.Fprintf(w, "%s %v\n", ui.RenderFailIcon(), ui.RenderFail("Error: "+err.Error()))

	var apiErr *gitlab.APIError
	if errors.As(err, &apiErr) {
		fmt.Fprintf(w, "  %s %s %s -> HTTP %d\n", ui.RenderMuted("request:"), apiErr.Method, apiErr.Path, apiErr.StatusCode)
		if apiErr.Body != "" {
			fmt.Fprintf(w, "  %s %s\n", ui.RenderMuted("response:"), ui.Truncate(apiErr.Body, 500))
		}
	}

	var conflict *align.ConflictError
	var revoke *elevation.RevocationError
	var dup *importer.DuplicateIDError
	var partial *partialError
	switch {
	case errors.As(err, &revoke):
		fmt.Fprintf(w, "\nThe run was halted. Demote accounts %v before doing anything else.\n", revoke.Accounts)
	case errors.As(err, &conflict):
		fmt.Fprintf(w, "\nThe project's issue counter is past legacy ID %d. Issue numbers cannot be\n", conflict.LegacyID)
		fmt.Fprintln(w, "rewound; import into a fresh project or resume after the last imported ID.")
	case errors.As(err, &dup):
		fmt.Fprintln(w, "\nDecide how forum threads are numbered before importing (--order).")
	case errors.As(err, &partial):
		if len(partial.Failed) > 0 {
			fmt.Fprintf(w, "\nLater issues kept their numbers; the failed IDs (lowest %d) are gaps now.\n", partial.Failed[0])
			fmt.Fprintln(w, "Use 'op2gl status' to see where the counter stands before retrying.")
		}
		if len(partial.Incomplete) > 0 {
			fmt.Fprintf(w, "\nIssues %v exist but lack their history or final state.\n", partial.Incomplete)
			fmt.Fprintln(w, "Fix or delete them by hand; importing them again would conflict.")
		}
	}
}

// accountNames describes elevated accounts by username where the target
// still answers.
func accountNames(client *gitlab.Client, ids []int) []string {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if u, err := client.GetUser(ctx, id); err == nil {
			names = append(names, fmt.Sprintf("%s (#%d)", u.Username, id))
			continue
		}
		names = append(names, fmt.Sprintf("#%d", id))
	}
	return names
}
