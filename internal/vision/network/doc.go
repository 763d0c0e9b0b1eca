// Package network receives encoded metadata batches and feeds them to a
// pipeline.Registry.
//
// Batches arrive as JSON payloads, one per UDP datagram, one per line of a
// replay file, or one per UDP payload of a pcap capture when built with the
// pcap tag. Every source funnels through an Ingestor, so decode errors and
// frame counts are tracked in one place.
package network
