package database

var schema = []string{`
CREATE TABLE IF NOT EXISTS users (
    id CHAR(36) PRIMARY KEY,
    email VARCHAR(255),
    name VARCHAR(255),
    ai_credits INT NOT NULL DEFAULT 0,
    created_at TIMESTAMP(6) DEFAULT CURRENT_TIMESTAMP(6),
    updated_at TIMESTAMP(6) DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
    CONSTRAINT chk_users_ai_credits CHECK (ai_credits >= 0)
)`, `
CREATE TABLE IF NOT EXISTS credit_transactions (
    id CHAR(36) PRIMARY KEY,
    user_id CHAR(36) NOT NULL,
    type VARCHAR(16) NOT NULL,
    amount INT NOT NULL,
    balance_after INT NOT NULL,
    reference_type VARCHAR(32) NOT NULL,
    reference_id VARCHAR(64) NOT NULL,
    description VARCHAR(255),
    created_at TIMESTAMP(6) DEFAULT CURRENT_TIMESTAMP(6),
    UNIQUE KEY uniq_credit_reference (user_id, reference_type, reference_id, type),
    KEY idx_credit_user_created (user_id, created_at),
    FOREIGN KEY (user_id) REFERENCES users(id)
)`, `
CREATE TABLE IF NOT EXISTS generation_jobs (
    id CHAR(36) PRIMARY KEY,
    user_id CHAR(36) NOT NULL,
    album_id VARCHAR(64),
    mode VARCHAR(16) NOT NULL,
    config JSON NOT NULL,
    total_images INT NOT NULL,
    credits_reserved INT NOT NULL,
    credits_used INT NOT NULL DEFAULT 0,
    completed_images INT NOT NULL DEFAULT 0,
    failed_images INT NOT NULL DEFAULT 0,
    status VARCHAR(16) NOT NULL,
    created_at TIMESTAMP(6) DEFAULT CURRENT_TIMESTAMP(6),
    updated_at TIMESTAMP(6) DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
    completed_at TIMESTAMP(6) NULL,
    KEY idx_jobs_status_updated (status, updated_at),
    KEY idx_jobs_user (user_id, created_at),
    FOREIGN KEY (user_id) REFERENCES users(id),
    CONSTRAINT chk_jobs_credits CHECK (credits_used <= credits_reserved),
    CONSTRAINT chk_jobs_images CHECK (completed_images + failed_images <= total_images)
)`, `
CREATE TABLE IF NOT EXISTS generations (
    id CHAR(36) PRIMARY KEY,
    user_id CHAR(36) NOT NULL,
    album_id VARCHAR(64),
    job_id CHAR(36),
    original_url TEXT NOT NULL,
    style VARCHAR(32) NOT NULL,
    role VARCHAR(16) NOT NULL,
    model_id VARCHAR(64) NOT NULL,
    generated_urls JSON NOT NULL,
    status VARCHAR(16) NOT NULL,
    credits_used TINYINT NOT NULL DEFAULT 0,
    cost DECIMAL(10,4) NOT NULL DEFAULT 0,
    provider_job_id VARCHAR(128),
    error_message VARCHAR(512),
    created_at TIMESTAMP(6) DEFAULT CURRENT_TIMESTAMP(6),
    completed_at TIMESTAMP(6) NULL,
    KEY idx_generations_user (user_id, created_at),
    KEY idx_generations_job (job_id),
    KEY idx_generations_album (album_id),
    FOREIGN KEY (user_id) REFERENCES users(id),
    CONSTRAINT chk_failed_generation_free CHECK (status <> 'FAILED' OR credits_used = 0)
)`, `
CREATE TABLE IF NOT EXISTS reference_photos (
    id CHAR(36) PRIMARY KEY,
    user_id CHAR(36) NOT NULL,
    role VARCHAR(16) NOT NULL,
    original_url TEXT NOT NULL,
    storage_key VARCHAR(512),
    face_detected BOOLEAN NOT NULL DEFAULT FALSE,
    face_count INT NOT NULL DEFAULT 0,
    is_active BOOLEAN NOT NULL DEFAULT FALSE,
    active_role VARCHAR(16) GENERATED ALWAYS AS (IF(is_active, role, NULL)) STORED,
    created_at TIMESTAMP(6) DEFAULT CURRENT_TIMESTAMP(6),
    UNIQUE KEY uniq_reference_active (user_id, active_role),
    FOREIGN KEY (user_id) REFERENCES users(id)
)`, `
CREATE TABLE IF NOT EXISTS promo_codes (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    code VARCHAR(64) NOT NULL UNIQUE,
    credits INT NOT NULL,
    max_uses INT NOT NULL,
    uses INT NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`, `
CREATE TABLE IF NOT EXISTS plans (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    title VARCHAR(255) NOT NULL,
    description TEXT,
    currency VARCHAR(8) NOT NULL,
    price_minor_units INT NOT NULL,
    credits INT NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`, `
CREATE TABLE IF NOT EXISTS payments (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id CHAR(36) NOT NULL,
    plan_id BIGINT,
    provider VARCHAR(64) NOT NULL,
    provider_payment_charge_id VARCHAR(128) NOT NULL,
    currency VARCHAR(8) NOT NULL,
    amount INT NOT NULL,
    credits INT NOT NULL,
    status VARCHAR(16) NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_payment_charge (provider, provider_payment_charge_id),
    FOREIGN KEY (user_id) REFERENCES users(id)
)`,
}
