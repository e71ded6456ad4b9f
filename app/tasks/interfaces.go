package tasks

// TaskSchedulerInterface is what the main application uses to manage
// background task processing: queue management and worker pool control.
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
	EnqueueImageEmbedding(imageID string)
}
