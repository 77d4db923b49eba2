package config

type WorkerKeyStruct struct {
	PersistViolationsQueue  string
	PersistSubmissionsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistViolationsQueue:  "persist_violations_queue",
	PersistSubmissionsQueue: "persist_submissions_queue",
}
