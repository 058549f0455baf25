//go:build e2e
// +build e2e

/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package e2e

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/logbus-io/logbus-operator/test/utils"
)

var _ = Describe("LogbusCluster lifecycle", Ordered, func() {
	const (
		testNamespace = "logbus-e2e-lifecycle"
		clusterName   = "primary"
	)

	clusterManifest := fmt.Sprintf(`apiVersion: logbus.io/v1alpha1
kind: LogbusCluster
metadata:
  name: %s
  namespace: %s
spec:
  replicas: 3
  version: "1.4.0"
  image: ghcr.io/logbus-io/logbus:1.4.0
  storage:
    size: 1Gi
`, clusterName, testNamespace)

	applyManifest := func(manifest string) {
		dir, err := os.MkdirTemp("", "logbus-e2e")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = os.RemoveAll(dir) })
		path := filepath.Join(dir, "cluster.yaml")
		Expect(os.WriteFile(path, []byte(manifest), 0o600)).To(Succeed())
		cmd := exec.Command("kubectl", "apply", "-f", path)
		_, err = utils.Run(cmd)
		Expect(err).NotTo(HaveOccurred())
	}

	get := func(args ...string) (string, error) {
		cmd := exec.Command("kubectl", args...)
		return utils.Run(cmd)
	}

	BeforeAll(func() {
		By("creating the test namespace")
		_, err := get("create", "ns", testNamespace)
		if err != nil {
			Expect(err.Error()).To(ContainSubstring("AlreadyExists"))
		}
	})

	AfterAll(func() {
		By("removing the test namespace")
		cmd := exec.Command("kubectl", "delete", "ns", testNamespace, "--ignore-not-found", "--wait=false")
		_, _ = utils.Run(cmd)
	})

	It("creates the broker infrastructure for a new cluster", func() {
		By("applying the LogbusCluster")
		applyManifest(clusterManifest)

		By("waiting for the StatefulSet to exist with the requested replicas")
		Eventually(func(g Gomega) {
			out, err := get("get", "statefulset", clusterName,
				"-n", testNamespace, "-o", "jsonpath={.spec.replicas}")
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(out).To(Equal("3"))
		}, 2*time.Minute, 5*time.Second).Should(Succeed())

		By("checking the rendered config ConfigMap exists")
		_, err := get("get", "configmap", clusterName+"-config", "-n", testNamespace)
		Expect(err).NotTo(HaveOccurred())

		By("checking both Services exist")
		_, err = get("get", "service", clusterName+"-headless", "-n", testNamespace)
		Expect(err).NotTo(HaveOccurred())
		_, err = get("get", "service", clusterName, "-n", testNamespace)
		Expect(err).NotTo(HaveOccurred())

		By("waiting for the spec to be validated and infrastructure reported ready")
		Eventually(func(g Gomega) {
			out, err := get("get", "logbuscluster", clusterName, "-n", testNamespace,
				"-o", `jsonpath={.status.conditions[?(@.type=="Validated")].status}`)
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(out).To(Equal("True"))
			out, err = get("get", "logbuscluster", clusterName, "-n", testNamespace,
				"-o", `jsonpath={.status.conditions[?(@.type=="InfrastructureReady")].status}`)
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(out).To(Equal("True"))
		}, 2*time.Minute, 5*time.Second).Should(Succeed())

		By("checking the phase reflects a cluster that is not yet ready")
		out, err := get("get", "logbuscluster", clusterName, "-n", testNamespace,
			"-o", "jsonpath={.status.phase}")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(BeElementOf("Creating", "Scaling", "Pending", "Ready"))
	})

	It("scales the StatefulSet when replicas change", func() {
		By("patching replicas to 5")
		_, err := get("patch", "logbuscluster", clusterName, "-n", testNamespace,
			"--type=merge", "-p", `{"spec":{"replicas":5}}`)
		Expect(err).NotTo(HaveOccurred())

		By("waiting for the StatefulSet to follow")
		Eventually(func(g Gomega) {
			out, err := get("get", "statefulset", clusterName,
				"-n", testNamespace, "-o", "jsonpath={.spec.replicas}")
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(out).To(Equal("5"))
		}, 2*time.Minute, 5*time.Second).Should(Succeed())
	})

	It("stops reconciling while paused", func() {
		By("pausing the cluster")
		_, err := get("patch", "logbuscluster", clusterName, "-n", testNamespace,
			"--type=merge", "-p", `{"spec":{"paused":true}}`)
		Expect(err).NotTo(HaveOccurred())

		By("waiting for the Available condition to report Paused")
		Eventually(func(g Gomega) {
			out, err := get("get", "logbuscluster", clusterName, "-n", testNamespace,
				"-o", `jsonpath={.status.conditions[?(@.type=="Available")].reason}`)
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(out).To(Equal("Paused"))
		}, time.Minute, 5*time.Second).Should(Succeed())

		By("checking spec changes are ignored while paused")
		_, err = get("patch", "logbuscluster", clusterName, "-n", testNamespace,
			"--type=merge", "-p", `{"spec":{"replicas":2}}`)
		Expect(err).NotTo(HaveOccurred())
		Consistently(func(g Gomega) {
			out, err := get("get", "statefulset", clusterName,
				"-n", testNamespace, "-o", "jsonpath={.spec.replicas}")
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(out).To(Equal("5"))
		}, 30*time.Second, 5*time.Second).Should(Succeed())

		By("unpausing the cluster")
		_, err = get("patch", "logbuscluster", clusterName, "-n", testNamespace,
			"--type=merge", "-p", `{"spec":{"paused":false}}`)
		Expect(err).NotTo(HaveOccurred())
		Eventually(func(g Gomega) {
			out, err := get("get", "statefulset", clusterName,
				"-n", testNamespace, "-o", "jsonpath={.spec.replicas}")
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(out).To(Equal("2"))
		}, 2*time.Minute, 5*time.Second).Should(Succeed())
	})

	It("rejects an invalid spec through the Validated condition", func() {
		By("patching in an unparseable storage size")
		_, err := get("patch", "logbuscluster", clusterName, "-n", testNamespace,
			"--type=merge", "-p", `{"spec":{"storage":{"size":"not-a-quantity"}}}`)
		Expect(err).NotTo(HaveOccurred())

		By("waiting for Validated=False")
		Eventually(func(g Gomega) {
			out, err := get("get", "logbuscluster", clusterName, "-n", testNamespace,
				"-o", `jsonpath={.status.conditions[?(@.type=="Validated")].status}`)
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(out).To(Equal("False"))
		}, time.Minute, 5*time.Second).Should(Succeed())

		By("restoring a valid spec")
		_, err = get("patch", "logbuscluster", clusterName, "-n", testNamespace,
			"--type=merge", "-p", `{"spec":{"storage":{"size":"1Gi"}}}`)
		Expect(err).NotTo(HaveOccurred())
		Eventually(func(g Gomega) {
			out, err := get("get", "logbuscluster", clusterName, "-n", testNamespace,
				"-o", `jsonpath={.status.conditions[?(@.type=="Validated")].status}`)
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(out).To(Equal("True"))
		}, time.Minute, 5*time.Second).Should(Succeed())
	})

	It("removes owned objects on deletion", func() {
		By("deleting the LogbusCluster")
		_, err := get("delete", "logbuscluster", clusterName, "-n", testNamespace, "--wait=false")
		Expect(err).NotTo(HaveOccurred())

		By("waiting for the finalizer to let the resource go")
		Eventually(func(g Gomega) {
			out, _ := get("get", "logbuscluster", clusterName, "-n", testNamespace,
				"--ignore-not-found")
			g.Expect(strings.TrimSpace(out)).To(BeEmpty())
		}, 2*time.Minute, 5*time.Second).Should(Succeed())

		By("waiting for the StatefulSet to be garbage collected")
		Eventually(func(g Gomega) {
			out, _ := get("get", "statefulset", clusterName, "-n", testNamespace,
				"--ignore-not-found")
			g.Expect(strings.TrimSpace(out)).To(BeEmpty())
		}, 2*time.Minute, 5*time.Second).Should(Succeed())
	})
})
