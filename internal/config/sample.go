package config

// Sample is the scaffold written by `chrond init`. It must always pass
// Parse+Validate; config_test.go keeps it honest.
const Sample = `{
  "tasks": [
    {
      "name": "sample_ping",
      "cron_schedule": "*/10 * * * * *",
      "command": "/bin/sh",
      "args": ["-c", "echo \"[sample] check at $(date)\""]
    },
    {
      "name": "sample_cleanup",
      "cron_schedule": "0 0 0 * * *",
      "command": "/usr/bin/find",
      "args": ["/tmp", "-type", "f", "-atime", "+7", "-delete"],
      "timeout": "5m"
    }
  ]
}
`
