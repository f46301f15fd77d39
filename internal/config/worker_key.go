package config

type WorkerKeyStruct struct {
	PersistProgressQueue string
	PersistEventsQueue   string
}

var WorkerKey = &WorkerKeyStruct{
	PersistProgressQueue: "persist_progress_queue",
	PersistEventsQueue:   "persist_session_events_queue",
}
