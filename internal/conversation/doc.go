// Package conversation provides the repository layer for chat conversations.
//
// # Overview
//
// The Repository sits between the session controller (and any list views)
// and the persistent store. It is the only code that writes to the store, so
// it can guarantee that every mutation is announced on the change notifier
// and that message lists are always encoded the same way.
//
//	notifier := broadcast.NewNotifier(logger)
//	repo := conversation.NewRepository(st, notifier, logger)
//
// # Events
//
//   - Add: add event carrying the new record
//   - Update: edit event carrying the updated record
//   - Delete: delete event with the id and no record
//   - DeleteAll: one delete event with id 0
//   - DeleteByGroup: one delete event per member, then one with id 0
//   - UpdatePartial: no event
//
// UpdatePartial is the rename/regroup path. It deliberately stays silent;
// list views refresh it on their next reload.
//
// # Message Encoding
//
// A conversation's message list is stored as one text blob. The Codec
// interface owns that format; JSONCodec is the default and WithCodec swaps
// it. Stored text that fails to decode yields a *DecodeError so callers can
// tell corruption apart from an empty conversation.
//
// # Search
//
// SearchByTitle matches titles case-insensitively. SearchContent is a raw,
// case-sensitive substring scan over the encoded message text of every
// record. Both return summaries (messages replaced by the empty encoding).
//
// # Helpers
//
// DeriveTitle, ResolveSystemPrompt and NewID compute the fields of a new
// conversation record.
package conversation
