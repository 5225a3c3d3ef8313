// Package reconcile keeps the local chat message store consistent with the
// backend.
//
// The Engine owns four operations:
//
//   - Pull fetches rows changed since the resource watermark and merges
//     them by client_id: absent rows are inserted, pending local rows are
//     left alone, otherwise the later updated_at wins and an equal one is
//     a no-op. The watermark advances only after every row was applied.
//   - FullSync fetches the whole resource, deletes confirmed local rows the
//     server no longer has and merges the rest.
//   - FlushPending sends every pending row in creation order through the
//     idempotent send protocol. A failing row does not stop the others.
//   - ApplyEvent merges one realtime change, after duplicate suppression.
//
// Run drives them: a sync cycle (flush, then pull or full sync) runs at
// start when reachable, on every transition to OnlineReachable, on
// RequestSync and on a timer; realtime events are applied as they arrive
// while the backend is reachable.
package reconcile
