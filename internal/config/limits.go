package config

import "time"

const (
	// ReadImportDepth bounds import chains followed when computing the
	// effective secrets of a folder.
	ReadImportDepth = 10

	// SyncImportDepth bounds how far a sync job fans out through folders
	// that import the changed folder.
	SyncImportDepth = 5

	// MaxFolderDepth bounds path walks over the folder tree. Deeper or
	// cyclic chains are treated as unresolvable.
	MaxFolderDepth = 20

	// MaxSecretReferenceDepth bounds nested ${...} resolution. Deeper
	// references are left unexpanded.
	MaxSecretReferenceDepth = 10

	// MaxFolderNameLength is the maximum length for a folder name segment.
	MaxFolderNameLength = 255

	// MaxSecretPathLength is the maximum length for a full secret path.
	MaxSecretPathLength = 1024

	// MaxReplicationStatusLength caps the error text stored on an import
	// after a failed replication.
	MaxReplicationStatusLength = 500

	// ReplicationLockTTL is how long the per-secret replication lock is held
	// before it expires on its own.
	ReplicationLockTTL = 5 * time.Second

	// ReplicationLockWait is how long a job waits for the per-secret locks.
	ReplicationLockWait = 5 * time.Second

	// FolderLockTTL is the lifetime of the best-effort lock around snapshot
	// and sync on a replication target.
	FolderLockTTL = 10 * time.Second

	// ReplicationSuccessTTL is how long the per job and import success marker
	// lives. It must outlast the retry schedule of one job.
	ReplicationSuccessTTL = 5 * time.Minute

	// QueueAttempts is the number of tries a queued job gets.
	QueueAttempts = 5

	// QueueBackoff is the first retry delay; later delays double.
	QueueBackoff = 3 * time.Second

	// SyncDebounce delays sync jobs so bursts on one folder collapse.
	SyncDebounce = 2 * time.Second

	// WorkerConcurrency is the number of consumers started per queue.
	WorkerConcurrency = 4
)
