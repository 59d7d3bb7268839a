package iotmqtt

import (
	"errors"
	"strings"
)

var (
	ErrInvalidTopicName   = errors.New("invalid topic name")
	ErrInvalidTopicFilter = errors.New("invalid topic filter")
	ErrEmptyTopic         = errors.New("topic cannot be empty")
)

const (
	topicSeparator      = '/'
	singleLevelWildcard = '+'
	multiLevelWildcard  = '#'
)

// ValidateTopicName validates a topic name used for publishing.
// Topic names cannot contain wildcards and must be valid MQTT strings.
func ValidateTopicName(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if err := validateString(topic); err != nil {
		return errors.Join(ErrInvalidTopicName, err)
	}
	if strings.ContainsAny(topic, "+#") {
		return ErrInvalidTopicName
	}
	return nil
}

// ValidateTopicFilter validates a topic filter used for subscribing.
// A wildcard must occupy a whole level and '#' must be the last level.
func ValidateTopicFilter(filter string) error {
	if filter == "" {
		return ErrEmptyTopic
	}
	if err := validateString(filter); err != nil {
		return errors.Join(ErrInvalidTopicFilter, err)
	}

	levels := strings.Split(filter, string(topicSeparator))
	for i, level := range levels {
		if strings.ContainsRune(level, singleLevelWildcard) && level != "+" {
			return ErrInvalidTopicFilter
		}
		if strings.ContainsRune(level, multiLevelWildcard) {
			if level != "#" || i != len(levels)-1 {
				return ErrInvalidTopicFilter
			}
		}
	}

	return nil
}

// TopicMatch checks if a topic name matches a topic filter.
// Topics starting with '$' never match a filter starting with a wildcard.
func TopicMatch(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}

	if topic[0] == '$' && (filter[0] == singleLevelWildcard || filter[0] == multiLevelWildcard) {
		return false
	}

	filterLevels := strings.Split(filter, string(topicSeparator))
	topicLevels := strings.Split(topic, string(topicSeparator))

	for i, level := range filterLevels {
		// "a/#" also matches "a"
		if level == "#" {
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if level != "+" && level != topicLevels[i] {
			return false
		}
	}

	return len(filterLevels) == len(topicLevels)
}

// DeviceTopic builds the per-device topic "<product>/<device>/<suffix>".
func DeviceTopic(productID, deviceName, suffix string) string {
	return productID + string(topicSeparator) + deviceName + string(topicSeparator) + suffix
}
