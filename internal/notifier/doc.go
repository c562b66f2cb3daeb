// Package notifier fans chapter updates out to subscribers.
//
// The service is the only consumer of the update queue. It handles one
// update at a time and sends one message per subscriber in the update's
// snapshot. A failed send is logged and published on the event bus; it is
// never retried and never stops delivery to the remaining subscribers.
//
// Sends share one token bucket so a large fan-out stays under the chat
// platform's flood limits.
package notifier
