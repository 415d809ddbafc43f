// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QoS1Retransmits counts every QoS-1 frame resend spec.md §4.4.1's
	// send algorithm issues while waiting for an ack.
	QoS1Retransmits = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "qos1",
			Name:      "retransmits_total",
			Help:      "Total number of QoS-1 frame retransmissions",
		},
	)

	// QoS1Acked counts QoS-1 sends that eventually received an ack.
	QoS1Acked = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "qos1",
			Name:      "acked_total",
			Help:      "Total number of QoS-1 sends that completed with an ack",
		},
	)

	// PingRTT observes each keepalive round-trip time sample as it
	// arrives; the AvgPingCount running average is not recorded here.
	PingRTT = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ping",
			Name:      "rtt_seconds",
			Help:      "Keepalive ping round-trip time in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)
)
