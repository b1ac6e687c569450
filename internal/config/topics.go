package config

const (
	// TopicIngestDocument carries IngestionJob payloads published when an upload completes.
	TopicIngestDocument = "ingest.document"

	// TopicPersistDocument carries PersistenceJob payloads emitted after a document is embedded.
	TopicPersistDocument = "persist.document"

	// ChannelIngestor is the consumer channel shared by all ingestion workers.
	ChannelIngestor = "ingestor"

	// ChannelRecorder is the consumer channel of the persistence worker.
	ChannelRecorder = "recorder"
)
