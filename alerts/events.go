// ABOUTME: Typed alert constructors for every control-plane event
// ABOUTME: Keeps titles and categories consistent across the two loops

package alerts

import "fmt"

func (j *Journal) ProactiveScaleUp(name, ip string, predicted float64) {
	j.Add(Info, ServerPower, "Proactive Scale-Up",
		fmt.Sprintf("Powered on %s (%s) for forecast of %.0f requests/hour", name, ip, predicted),
		map[string]interface{}{"server_name": name, "server_ip": ip, "predicted_traffic": predicted})
}

func (j *Journal) ProactiveScaleDown(name, ip string, predicted float64) {
	j.Add(Info, ServerPower, "Proactive Scale-Down",
		fmt.Sprintf("Powered off %s (%s) for forecast of %.0f requests/hour", name, ip, predicted),
		map[string]interface{}{"server_name": name, "server_ip": ip, "predicted_traffic": predicted})
}

func (j *Journal) ReactiveScaleUp(name, ip string, avgCPU, avgMem float64) {
	j.Add(Warning, ServerPower, "Reactive Scale-Up",
		fmt.Sprintf("Sustained high load (cpu %.1f%%, mem %.1f%%); powered on %s (%s)", avgCPU, avgMem, name, ip),
		map[string]interface{}{"server_name": name, "server_ip": ip, "avg_cpu": avgCPU, "avg_mem": avgMem})
}

func (j *Journal) ReactiveScaleDown(name, ip string, avgCPU, avgMem float64) {
	j.Add(Info, ServerPower, "Reactive Scale-Down",
		fmt.Sprintf("Sustained low load (cpu %.1f%%, mem %.1f%%); powered off %s (%s)", avgCPU, avgMem, name, ip),
		map[string]interface{}{"server_name": name, "server_ip": ip, "avg_cpu": avgCPU, "avg_mem": avgMem})
}

func (j *Journal) HealthCheckFailed(name, ip, reason string) {
	j.Add(Critical, ServerHealth, "Health Check Failed",
		fmt.Sprintf("%s (%s) failed synthetic check: %s", name, ip, reason),
		map[string]interface{}{"server_name": name, "server_ip": ip, "reason": reason})
}

func (j *Journal) FailoverInitiated(failedName, failedIP, replacement string) {
	j.Add(Warning, ServerHealth, "Failover Initiated",
		fmt.Sprintf("Replacing %s (%s) with %s", failedName, failedIP, replacement),
		map[string]interface{}{"failed_server": failedName, "failed_ip": failedIP, "replacement": replacement})
}

func (j *Journal) FailoverComplete(failedName, replacement, replacementIP string) {
	j.Add(Success, ServerHealth, "Failover Complete",
		fmt.Sprintf("%s replaced by %s (%s)", failedName, replacement, replacementIP),
		map[string]interface{}{"failed_server": failedName, "replacement": replacement, "replacement_ip": replacementIP})
}

func (j *Journal) NoReplacementAvailable(failedName, failedIP string) {
	j.Add(Critical, ServerHealth, "No Replacement Available",
		fmt.Sprintf("No healthy spare capacity to replace %s (%s)", failedName, failedIP),
		map[string]interface{}{"failed_server": failedName, "failed_ip": failedIP})
}

func (j *Journal) ServerBlacklisted(name, ip string) {
	j.Add(Warning, ServerHealth, "Server Blacklisted",
		fmt.Sprintf("%s (%s) excluded from scheduling pending recovery", name, ip),
		map[string]interface{}{"server_name": name, "server_ip": ip})
}

func (j *Journal) ServerRecovered(name, ip string) {
	j.Add(Success, ServerHealth, "Server Recovered",
		fmt.Sprintf("%s (%s) passed probes after reset and left the blacklist", name, ip),
		map[string]interface{}{"server_name": name, "server_ip": ip})
}

func (j *Journal) AllBackendsBlacklisted() {
	j.Add(Critical, ServerHealth, "All Backends Blacklisted",
		"Every backend is blacklisted; edge retains its last-known target", nil)
}

func (j *Journal) ForecastFailed(errMsg string) {
	j.Add(Warning, MLModel, "Forecast Failed",
		fmt.Sprintf("Forecast evaluation failed, reusing cached value: %s", errMsg),
		map[string]interface{}{"error": errMsg})
}

func (j *Journal) ModelRetrainingStarted(model string) {
	j.Add(Critical, MLModel, "Model Retraining Started",
		fmt.Sprintf("Two consecutive failures on %s; retraining scheduled", model),
		map[string]interface{}{"model": model})
}

func (j *Journal) ModelRetrainingComplete(model string, accuracy float64) {
	j.Add(Success, MLModel, "Model Retraining Complete",
		fmt.Sprintf("%s retrained, accuracy %.2f%%", model, accuracy),
		map[string]interface{}{"model": model, "accuracy": accuracy})
}

func (j *Journal) PathPredictionFallback(pathName, errMsg string) {
	j.Add(Warning, MLModel, "Path Prediction Fallback",
		fmt.Sprintf("Prediction for %s failed, using last observed value: %s", pathName, errMsg),
		map[string]interface{}{"path": pathName, "error": errMsg})
}

func (j *Journal) DrainingStarted(name, ip string) {
	j.Add(Info, ConnectionDraining, "Connection Draining Started",
		fmt.Sprintf("%s (%s) is draining; edge will stop selecting it", name, ip),
		map[string]interface{}{"server_name": name, "server_ip": ip})
}

func (j *Journal) DrainingComplete(name, ip string) {
	j.Add(Info, ConnectionDraining, "Connection Draining Complete",
		fmt.Sprintf("%s (%s) finished draining", name, ip),
		map[string]interface{}{"server_name": name, "server_ip": ip})
}

func (j *Journal) GracefulShutdown(name, ip string) {
	j.Add(Success, ConnectionDraining, "Graceful Shutdown",
		fmt.Sprintf("%s (%s) powered off after drain", name, ip),
		map[string]interface{}{"server_name": name, "server_ip": ip})
}

func (j *Journal) HighCPU(avg, threshold float64, servers int) {
	j.Add(Warning, ResourceThreshold, "High CPU Usage",
		fmt.Sprintf("5-minute average CPU %.1f%% above %.0f%% across %d server(s)", avg, threshold, servers),
		map[string]interface{}{"avg_cpu": avg, "threshold": threshold, "servers": servers})
}

func (j *Journal) HighMemory(avg, threshold float64, servers int) {
	j.Add(Warning, ResourceThreshold, "High Memory Usage",
		fmt.Sprintf("5-minute average memory %.1f%% above %.0f%% across %d server(s)", avg, threshold, servers),
		map[string]interface{}{"avg_mem": avg, "threshold": threshold, "servers": servers})
}

func (j *Journal) LowUtilization(avgCPU, avgMem float64) {
	j.Add(Info, ResourceThreshold, "Low Utilization",
		fmt.Sprintf("30-minute averages cpu %.1f%%, mem %.1f%% below idle thresholds", avgCPU, avgMem),
		map[string]interface{}{"avg_cpu": avgCPU, "avg_mem": avgMem})
}

func (j *Journal) MetricsConnectionFailed(url, errMsg string) {
	j.Add(Critical, SystemTelemetry, "Metrics DB Unreachable",
		fmt.Sprintf("Query against %s failed: %s", url, errMsg),
		map[string]interface{}{"url": url, "error": errMsg})
}

func (j *Journal) SDNConnectionFailed(host, errMsg string) {
	j.Add(Critical, SystemTelemetry, "SDN Controller Unreachable",
		fmt.Sprintf("Request to %s failed: %s", host, errMsg),
		map[string]interface{}{"host": host, "error": errMsg})
}

func (j *Journal) ExporterDown(ip string) {
	j.Add(Warning, SystemTelemetry, "Request Exporter Down",
		fmt.Sprintf("HTTP request exporter on %s is not reporting", ip),
		map[string]interface{}{"server_ip": ip})
}

func (j *Journal) StatusSyncFailed(errMsg string) {
	j.Add(Warning, SystemTelemetry, "Status Sync Failed",
		fmt.Sprintf("Could not ship status document to the edge: %s", errMsg),
		map[string]interface{}{"error": errMsg})
}

func (j *Journal) NATCommitFailed(target, errMsg string) {
	j.Add(Critical, SystemTelemetry, "NAT Commit Failed",
		fmt.Sprintf("Could not install DNAT rule for %s; previous rule kept: %s", target, errMsg),
		map[string]interface{}{"target": target, "error": errMsg})
}

func (j *Journal) NoCandidates() {
	j.Add(Warning, ServerHealth, "No Selectable Backends",
		"Candidate set is empty; previous NAT target retained", nil)
}

func (j *Journal) CounterRegression(device string, port int) {
	j.Add(Warning, NetworkPath, "Port Counter Regression",
		fmt.Sprintf("Decreasing byte counter on %s port %d; window treated as zero", device, port),
		map[string]interface{}{"device": device, "port": port})
}

func (j *Journal) HighPathCongestion(pathName string, utilization float64) {
	j.Add(Warning, NetworkPath, "High Path Congestion",
		fmt.Sprintf("Path %s at %.1f%% of its window budget", pathName, utilization),
		map[string]interface{}{"path": pathName, "utilization": utilization})
}
