package jobs

const (
	TaskCollect     = "cache:collect"
	TaskStaleLists  = "cache:invalidate_lists"
	DefaultSchedule = "@every 1m"
)
