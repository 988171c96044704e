// Package health implements the three health-check strategies (HTTP,
// TCP, exec) a container's health-check configuration can select, the
// consecutive-failure hysteresis (Status.Update) that turns a flaky
// check into a stable Healthy/Unhealthy verdict, and Monitor, the
// per-container loop the start pipeline attaches and the stop
// pipeline cancels, writing the result back to the container's
// RuntimeState.Health field instead of reporting it to a cluster
// manager.
package health
