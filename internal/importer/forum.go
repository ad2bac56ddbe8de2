package importer

import (
	"sort"

	"github.com/op2gl/op2gl/internal/types"
)

// FlattenForum reduces every forum thread to an issue labelled
// "discussion". Replies become journal entries in chronological order and a
// locked thread is closed. The returned issues are ordered by message ID.
func FlattenForum(doc *types.Document) []*types.Issue {
	var out []*types.Issue
	for _, bid := range doc.BoardIDs() {
		board := doc.Boards[bid]
		for _, msg := range board.Messages {
			issue := &types.Issue{
				LegacyID:    msg.LegacyID,
				Title:       msg.Subject,
				Description: msg.Content,
				AuthorID:    msg.AuthorID,
				CreatedAt:   msg.CreatedAt,
				Closed:      msg.Locked,
				Labels:      []string{types.DiscussionLabel},
				BoardID:     board.LegacyID,
				Attachments: msg.Attachments,
			}
			replies := append([]types.ForumReply(nil), msg.Replies...)
			sort.SliceStable(replies, func(i, j int) bool {
				return replies[i].CreatedAt.Before(replies[j].CreatedAt)
			})
			for _, r := range replies {
				issue.Journal = append(issue.Journal, types.JournalEntry{
					AuthorID:    r.AuthorID,
					CreatedAt:   r.CreatedAt,
					Notes:       r.Content,
					Attachments: r.Attachments,
				})
			}
			out = append(out, issue)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LegacyID < out[j].LegacyID })
	return out
}
