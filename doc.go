// Package reachymini controls the head and antennas of a Reachy Mini robot.
//
// The head sits on six Dynamixel XL330 motors driving a parallel linkage;
// two more motors move the antennas. The module talks Dynamixel Protocol 2.0
// either through the robot daemon's WebSocket bridge or a local serial
// adapter, and converts between head poses and joint angles.
//
// # Installation
//
//	go install github.com/gwillem/reachymini/cmd/reachy@latest
//
// # Usage
//
// Run setup once to pick the connection and record motor ranges:
//
//	reachy setup
//
// Then move and inspect the head:
//
//	reachy pose
//	reachy set-pose --z 10 --yaw 20
//	reachy status
//	reachy stream --duration 10s --record --passive --replay
//
// Every command accepts --sim to run against a simulated bus.
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/reachy: CLI with setup, pose, joint, torque, diagnostics and stream commands
//   - pkg/dynamixel: Protocol 2.0 frames, checksums, status parsing and tick conversion
//   - pkg/kinematics: Forward and inverse kinematics of the head linkage
//   - pkg/transport: Serial and WebSocket connections to the motor bus
//   - pkg/robot: Robot session, motor layout, calibration, configuration and metrics
//   - pkg/stream: Live pose stream, recording and replay
//   - pkg/monitor: HTTP health, metrics and pose endpoint
//   - pkg/sim: In-memory motor bus for tests and dry runs
package reachymini
