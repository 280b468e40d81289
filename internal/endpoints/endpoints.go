// Package endpoints lists the backend REST routes the client calls verbatim.
// Paths are relative to the configured base URL; ":name" segments are
// filled in with Expand.
package endpoints

import (
	"net/url"
	"strings"
)

// Authentication
const (
	AuthLogin          = "/auth/login"
	AuthRegister       = "/auth/register"
	AuthLogout         = "/auth/logout"
	AuthRefresh        = "/auth/refresh"
	AuthSession        = "/auth/session"
	AuthForgotPassword = "/auth/forgot-password"
	AuthResetPassword  = "/auth/reset-password"
)

// Dashboard
const (
	DashboardOverview    = "/dashboard/overview"
	DashboardPerformance = "/dashboard/performance"
	DashboardTasks       = "/dashboard/tasks"
	TaskDetails          = "/tasks/:taskId"
)

// AI agents
const (
	AIAgentsList       = "/ai/agents"
	AIAgentsStatus     = "/agent-metrics/agents/status"
	AIAgentPerformance = "/agent-metrics/performance"
	AIAgentExecute     = "/ai/agents/:agentName/execute"
	AIQualifyLead      = "/ai/qualify-lead"
	AIResearchCompany  = "/ai/research-company"
	AIGenerate         = "/ai/generate"
	AIExecutions       = "/ai/executions"
)

// Leads
const (
	Leads         = "/leads"
	LeadDetails   = "/leads/:id"
	LeadsGenerate = "/ai/leads/generate"
)

// CRM
const (
	CRMContacts      = "/crm-connect/contacts"
	CRMOpportunities = "/crm-connect/opportunities"
	CRMAccounts      = "/crm-connect/accounts"
	CRMSync          = "/crm-connect/sync"
	CRMConnections   = "/crm-connect/connections"
	CRMHealth        = "/crm-connect/health"
)

// Users
const (
	UserProfile     = "/users/:userId"
	UserPreferences = "/users/:userId/preferences"
)

// Analytics
const (
	RevenueMetrics  = "/revenue/metrics"
	RevenuePipeline = "/revenue/pipeline"
	RevenueForecast = "/revenue/forecast"
)

// Health
const (
	HealthCheck  = "/health"
	HealthStatus = "/status"
)

// Expand replaces each ":name" segment of path with the path-escaped value
// from params. Segments without a value are left untouched.
func Expand(path string, params map[string]string) string {
	if len(params) == 0 || !strings.Contains(path, ":") {
		return path
	}
	segs := strings.Split(path, "/")
	for i, s := range segs {
		if !strings.HasPrefix(s, ":") {
			continue
		}
		if v, ok := params[s[1:]]; ok {
			segs[i] = url.PathEscape(v)
		}
	}
	return strings.Join(segs, "/")
}

// Item joins a collection path and an item id, e.g. Item("/leads", "42") == "/leads/42".
func Item(collection, id string) string {
	return strings.TrimRight(collection, "/") + "/" + url.PathEscape(id)
}
