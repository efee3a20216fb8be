package redis

import "fmt"

// Key layout is part of the wire contract; other tooling reads these keys
// directly. Do not change formats without a migration.

// QueueSetKey is the set of all queue names.
func QueueSetKey() string {
	return "starq:queues"
}

// QueueMetaKey is the hash of per-queue configuration.
func QueueMetaKey(name string) string {
	return fmt.Sprintf("starq:queue:%s", name)
}

// StreamKey is the job stream for a queue.
func StreamKey(name string) string {
	return fmt.Sprintf("starq:stream:%s", name)
}

// ConsumerGroup is the consumer-group name on a queue's stream.
func ConsumerGroup(name string) string {
	return fmt.Sprintf("starq:cg:%s", name)
}

// JobMetaKey is the per-job metadata hash, keyed by stream entry ID.
func JobMetaKey(queue, jobID string) string {
	return fmt.Sprintf("starq:job:%s:%s", queue, jobID)
}

// JobMetaPattern matches all job metadata keys of a queue (SCAN use only).
func JobMetaPattern(queue string) string {
	return fmt.Sprintf("starq:job:%s:*", queue)
}

func StatsCompletedKey(name string) string {
	return fmt.Sprintf("starq:stats:%s:completed", name)
}

func StatsFailedKey(name string) string {
	return fmt.Sprintf("starq:stats:%s:failed", name)
}

// DedupeKey is the set of payload hashes of non-terminal jobs in a queue.
func DedupeKey(name string) string {
	return fmt.Sprintf("starq:dedupe:%s", name)
}
