// Package queue provides the ordered, capacity-bounded mailbox abstraction
// that bridges pipeline stages, with three backends behind one generic
// contract: an in-process FIFO (Memory), a BadgerDB-backed durable local
// queue (Badger), and a RabbitMQ-backed durable remote queue (AMQP).
//
// Timed Get returns an error wrapping core.ErrTimeout when nothing arrives;
// pump loops rely on this to poll their stop flag without blocking
// indefinitely. Durable backends delete a message only after a successful
// Get, so a consumer crash before acknowledgment leads to redelivery.
package queue
