package broker

import "github.com/ramiqadoumi/agentq/internal/domain"

func QueueKey(t domain.AgentType) string        { return "tasks:" + string(t) }
func StatusKey(t domain.AgentType) string       { return "agent:" + string(t) + ":status" }
func LastSeenKey(t domain.AgentType) string     { return "agent:" + string(t) + ":last_seen" }
func NotificationKey(t domain.AgentType) string { return "agent:" + string(t) + ":notification" }
func ResultKey(taskID string) string            { return "task:" + taskID }
