/*
Package checkpoint tracks which series a migration run has already written,
so an interrupted run can be restarted without re-sending history.

# Why Checkpoints

A full archive tree can hold hundreds of thousands of Whisper files, and a
migration over them can run for hours. Without a durable record of progress,
any crash or operator interrupt means starting over and re-writing points
the target database already has. The checkpoint store closes that gap: after
a series is written, its outcome is recorded, and the next run skips every
series whose recorded window still covers the requested one.

# Backends

All backends implement the Store interface:

	type Store interface {
	    Get(ctx context.Context, seriesKey string) (*Entry, error)
	    Put(ctx context.Context, e Entry) error
	    Close() error
	}

  - memory: map-backed, lost on exit. Used by tests and by simulation runs,
    which must never leave state behind.
  - badger: BadgerDB-backed, survives restarts. Used by live runs.

# Keying

Series are identified by their canonical series key (measurement plus the
host, service and check_command tags). The BadgerDB backend hashes that key
to a fixed 8-byte database key and stores the full string inside the entry;
a lookup whose stored series key differs from the requested one is treated
as a miss rather than a false hit.

# Usage Example

	store, err := badger.New(badger.Config{Path: "./checkpoints"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	entry, err := store.Get(ctx, key)
	if err != nil {
	    return err
	}
	if entry != nil && entry.State == "WRITTEN" && entry.Covers(from, until) {
	    return nil // already migrated
	}

	// ... convert the series ...

	err = store.Put(ctx, checkpoint.Entry{
	    SeriesKey:   key,
	    State:       "WRITTEN",
	    From:        from,
	    Until:       until,
	    Samples:     n,
	    CompletedAt: time.Now(),
	})
*/
package checkpoint
