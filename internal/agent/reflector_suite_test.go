package agent_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestAgentReflectorAndRepairSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Agent Reflector and Repair Cascade Suite")
}
