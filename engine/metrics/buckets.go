package metrics

// TaskDurationBuckets are the default latency buckets for task/strategy
// execution duration histograms, adapted from the teacher's
// metrics.WorkflowDurationBuckets.
var TaskDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// QueueWaitBuckets bound the time an item spends queued before dispatch.
var QueueWaitBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30}
