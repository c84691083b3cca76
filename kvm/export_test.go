package kvm

var PolicyEntries = policyEntries
