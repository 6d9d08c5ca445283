package notify

import (
	"fmt"
	"strconv"
	"strings"
)

func TopicState(prefix string) string {
	return fmt.Sprintf("%s/daemon/state", prefix)
}

func TopicResult(prefix string, pid int) string {
	return fmt.Sprintf("%s/client/%d/result", prefix, pid)
}

func TopicManagerResult(prefix string, pid int) string {
	return fmt.Sprintf("%s/manager/%d/result", prefix, pid)
}

func TopicSpeechDetected(prefix string, pid int) string {
	return fmt.Sprintf("%s/manager/%d/speech_detected", prefix, pid)
}

func TopicTooltip(prefix string, pid int) string {
	return fmt.Sprintf("%s/widget/%d/tooltip", prefix, pid)
}

func TopicError(prefix string, pid int) string {
	return fmt.Sprintf("%s/client/%d/error", prefix, pid)
}

func TopicHello(prefix string, pid int, requestID string) string {
	return fmt.Sprintf("%s/client/%d/hello/%s", prefix, pid, requestID)
}

func TopicHelloReply(prefix string, pid int, requestID string) string {
	return fmt.Sprintf("%s/client/%d/hello_reply/%s", prefix, pid, requestID)
}

func TopicHelloReplies(prefix string) string {
	return fmt.Sprintf("%s/client/+/hello_reply/+", prefix)
}

// expected: {prefix}/client/{pid}/{kind}/...
func ParsePID(topic, prefix string) (int, error) {
	parts := strings.Split(topic, "/")
	prefixParts := strings.Split(prefix, "/")
	if len(parts) < len(prefixParts)+3 {
		return 0, fmt.Errorf("invalid topic: %s", topic)
	}
	for i, p := range prefixParts {
		if parts[i] != p {
			return 0, fmt.Errorf("topic prefix mismatch: %s", topic)
		}
	}
	if parts[len(prefixParts)] != "client" {
		return 0, fmt.Errorf("invalid topic pattern: %s", topic)
	}
	pid, err := strconv.Atoi(parts[len(prefixParts)+1])
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid in topic: %s", topic)
	}
	return pid, nil
}

func ParseRequestID(topic string) string {
	parts := strings.Split(topic, "/")
	return parts[len(parts)-1]
}
