package dashboard

// Overview is the headline numbers shown on the home screen.
type Overview struct {
	TotalOpportunities int         `json:"totalOpportunities"`
	TotalLeads         int         `json:"totalLeads"`
	TotalTasks         int         `json:"totalTasks"`
	PipelineValue      float64     `json:"pipelineValue"`
	AverageDealSize    float64     `json:"averageDealSize"`
	ConversionRate     float64     `json:"conversionRate"`
	QualifiedLeads     int         `json:"qualifiedLeads"`
	Prospects          int         `json:"prospects"`
	Messages           int         `json:"messages"`
	Responses          int         `json:"responses"`
	Meetings           int         `json:"meetings"`
	ResponseRate       float64     `json:"responseRate"`
	RevenueData        RevenueData `json:"revenueData"`
	GrowthRates        GrowthRates `json:"growthRates"`
	Period             string      `json:"period"`
	LastUpdated        string      `json:"lastUpdated"`
	Source             string      `json:"source"`
	ResponseTime       float64     `json:"responseTime"`
}

type RevenueData struct {
	Target         float64 `json:"target"`
	Actual         float64 `json:"actual"`
	Forecast       float64 `json:"forecast"`
	PreviousPeriod float64 `json:"previousPeriod"`
	Growth         float64 `json:"growth"`
}

type GrowthRates struct {
	Prospects    float64 `json:"prospects"`
	Messages     float64 `json:"messages"`
	Responses    float64 `json:"responses"`
	ResponseRate float64 `json:"responseRate"`
}

// PerformanceMetrics are the rep's rolling sales KPIs.
type PerformanceMetrics struct {
	ConversionRate   float64 `json:"conversionRate"`
	AverageDealSize  float64 `json:"averageDealSize"`
	SalesCycle       float64 `json:"salesCycle"`
	WinRate          float64 `json:"winRate"`
	LeadVelocity     float64 `json:"leadVelocity"`
	PipelineValue    float64 `json:"pipelineValue"`
	ForecastAccuracy float64 `json:"forecastAccuracy"`
	ActivityLevel    float64 `json:"activityLevel"`
}

// TaskStatus is the workflow state of a Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted:
		return true
	}
	return false
}

// Task is a to-do item assigned to the rep.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"`
	Status      TaskStatus `json:"status"`
	DueDate     string     `json:"dueDate"`
	AssignedTo  string     `json:"assignedTo"`
	Type        string     `json:"type"`
}
