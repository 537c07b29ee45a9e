/*
Package events provides an in-memory, non-blocking pub/sub broker used
to notify interested observers (metrics, CLI watchers, tests) of
cluster-membership and feature-flag/queue-control state changes without
coupling the coordinator and controller to any particular subscriber.
*/
package events
